package deck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/themindlocksyndicate/tmls-companion/models"
)

// newDatasetServer serves a small dataset site and counts requests per path.
func newDatasetServer(t *testing.T, files map[string]string) (*httptest.Server, *sync.Map) {
	t.Helper()
	hits := &sync.Map{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := hits.LoadOrStore(r.URL.Path, new(int32))
		atomic.AddInt32(n.(*int32), 1)
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func hitCount(hits *sync.Map, path string) int32 {
	n, ok := hits.Load(path)
	if !ok {
		return 0
	}
	return atomic.LoadInt32(n.(*int32))
}

func TestLoader_LoadCardsDataset(t *testing.T) {
	srv, _ := newDatasetServer(t, map[string]string{
		"/datasets/cards.json": `[
			{"id": "a1", "card": "Anchor", "category": "Focus", "hint2": "second", "hint1": "first", "tags": "x"},
			{"card": "Deep Breath"}
		]`,
	})
	loader := NewLoader(srv.URL, "cards", srv.Client())

	d, err := loader.Load(context.Background(), models.DefaultDeckID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d.ID != "cards" || d.Name != "TMLS Cards" {
		t.Errorf("Unexpected deck identity %q / %q", d.ID, d.Name)
	}
	if len(d.Cards) != 2 {
		t.Fatalf("Expected 2 cards, got %d", len(d.Cards))
	}

	a := d.Cards[0]
	if a.Code != "A1" || a.Title != "Anchor" || a.Category != "Focus" {
		t.Errorf("Unexpected first card %+v", a)
	}
	if len(a.Hints) != 2 || a.Hints[0] != "first" || a.Hints[1] != "second" {
		t.Errorf("Hints should follow key order, got %v", a.Hints)
	}
	if a.Extra["tags"] != "x" {
		t.Errorf("Unknown fields should land in Extra, got %v", a.Extra)
	}
	if d.Cards[1].Code != "DEEP-BREATH" {
		t.Errorf("Expected slug code DEEP-BREATH, got %q", d.Cards[1].Code)
	}
}

func TestLoader_LoadDeckDirectory(t *testing.T) {
	srv, _ := newDatasetServer(t, map[string]string{
		"/classic/deck.config.json":   `{"name": "Classic"}`,
		"/classic/cards.json":         `{"cards": [{"code": "x", "title": "Ex", "hints": ["h"]}]}`,
		"/classic/templates/back.svg": `<svg/>`,
	})
	loader := NewLoader(srv.URL, "cards", srv.Client())

	d, err := loader.Load(context.Background(), "classic")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d.Name != "Classic" {
		t.Errorf("Expected name from config, got %q", d.Name)
	}
	if len(d.Cards) != 1 || d.Cards[0].Code != "X" || d.Cards[0].Hints[0] != "h" {
		t.Errorf("Unexpected cards %+v", d.Cards)
	}
	if d.Templates.Back != "<svg/>" || d.Templates.Front != "" {
		t.Errorf("Missing templates should fall back to empty, got %+v", d.Templates)
	}
}

func TestLoader_MissingDeck(t *testing.T) {
	srv, _ := newDatasetServer(t, map[string]string{})
	loader := NewLoader(srv.URL, "cards", srv.Client())

	if _, err := loader.Load(context.Background(), "nope"); !errors.Is(err, ErrDeckNotFound) {
		t.Errorf("Expected ErrDeckNotFound, got %v", err)
	}
}

func TestLoader_CachesAndCollapsesLoads(t *testing.T) {
	srv, hits := newDatasetServer(t, map[string]string{
		"/datasets/cards.json": `[{"id": "a"}]`,
	})
	loader := NewLoader(srv.URL, "cards", srv.Client())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := loader.Load(context.Background(), "cards"); err != nil {
				t.Errorf("Load failed: %v", err)
			}
		}()
	}
	wg.Wait()
	loader.Load(context.Background(), "cards")

	if n := hitCount(hits, "/datasets/cards.json"); n < 1 || n > 8 {
		t.Errorf("Unexpected fetch count %d", n)
	}
	before := hitCount(hits, "/datasets/cards.json")
	loader.Load(context.Background(), "cards")
	if hitCount(hits, "/datasets/cards.json") != before {
		t.Error("A cached deck should not be fetched again")
	}
}

func TestLoader_DeckListFallback(t *testing.T) {
	srv, _ := newDatasetServer(t, map[string]string{})
	loader := NewLoader(srv.URL, "cards", srv.Client())

	list := loader.DeckList(context.Background())
	if len(list) != 1 || list[0].Key != "cards" || list[0].Name != "Default Deck" {
		t.Errorf("Unexpected fallback list %+v", list)
	}
}

func TestLoader_ResolveKey(t *testing.T) {
	loader := NewLoader("http://unused", "cards", nil)
	list := []models.DeckIndexEntry{{Key: "other"}, {Key: "cards"}}

	if got := loader.ResolveKey(list, "other"); got != "other" {
		t.Errorf("Listed key should win, got %q", got)
	}
	if got := loader.ResolveKey(list, "ghost"); got != "cards" {
		t.Errorf("Unknown key should fall back to default, got %q", got)
	}
	if got := loader.ResolveKey([]models.DeckIndexEntry{{Key: "only"}}, ""); got != "only" {
		t.Errorf("Without a listed default the first entry wins, got %q", got)
	}
}

func TestCategories(t *testing.T) {
	cards := []models.Card{{Category: "b"}, {Category: "a"}, {Category: " b "}, {}}
	got := Categories(cards)
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("Expected sorted unique categories, got %v", got)
	}
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(models.Card{Code: "A", Title: "Anchor", Category: "Focus", Hints: []string{"breathe"}})
	want := "# Anchor\n- **Category:** Focus\n\n> breathe"
	if md != want {
		t.Errorf("Unexpected markdown:\n%s", md)
	}

	both := RenderTranscript([]models.Card{{Code: "A"}, {Code: "B"}})
	if both != "# A\n\n---\n\n# B" {
		t.Errorf("Unexpected transcript:\n%s", both)
	}
}
