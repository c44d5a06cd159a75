package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/themindlocksyndicate/tmls-companion/deck"
	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/solo"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// deckStatus maps a loader error to an HTTP status.
func deckStatus(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, deck.ErrDeckNotFound) {
		writeError(w, http.StatusNotFound, "deck not found: "+id)
		return
	}
	logger.Log.Errorf("Deck %s failed to load: %v", id, err)
	writeError(w, http.StatusBadGateway, "deck unavailable")
}

func (s *Server) handleDeckList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default": s.decks.DefaultDeck(),
		"decks":   s.decks.DeckList(r.Context()),
	})
}

type deckResponse struct {
	*models.Deck
	Categories []string `json:"categories"`
}

func (s *Server) handleDeck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, err := s.decks.Load(r.Context(), id)
	if err != nil {
		deckStatus(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, deckResponse{Deck: d, Categories: deck.Categories(d.Cards)})
}

type soloResponse struct {
	solo.Result
	Markdown string `json:"markdown"`
}

func (s *Server) handleSoloDraw(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := s.decks.ResolveKey(s.decks.DeckList(r.Context()), q.Get("deck"))

	d, err := s.decks.Load(r.Context(), key)
	if err != nil {
		deckStatus(w, key, err)
		return
	}
	res, err := solo.Draw(d.Cards, solo.Options{
		Deck:     key,
		Category: q.Get("category"),
		Seed:     q.Get("seed"),
		Symbol:   q.Get("symbol"),
		LastKey:  q.Get("last"),
	})
	if errors.Is(err, solo.ErrNoCards) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, soloResponse{Result: res, Markdown: deck.RenderMarkdown(res.Card)})
}
