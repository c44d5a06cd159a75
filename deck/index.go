package deck

import (
	"context"
	"strings"

	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/models"
)

// DeckList reads datasets/index.json. Any failure, or an empty index,
// yields a single entry for the default deck.
func (l *Loader) DeckList(ctx context.Context) []models.DeckIndexEntry {
	var list []models.DeckIndexEntry
	if err := l.getJSON(ctx, "datasets/index.json", &list); err != nil {
		logger.Log.Warnf("Deck index unavailable, using default: %v", err)
		list = nil
	}

	out := list[:0]
	for _, e := range list {
		if e.Key = strings.TrimSpace(e.Key); e.Key != "" {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return []models.DeckIndexEntry{{Key: l.defaultDeck, Name: "Default Deck"}}
	}
	return out
}

// ResolveKey returns requested when the index lists it, otherwise the
// default deck if listed, otherwise the first entry.
func (l *Loader) ResolveKey(list []models.DeckIndexEntry, requested string) string {
	if requested != "" && contains(list, requested) {
		return requested
	}
	if contains(list, l.defaultDeck) || len(list) == 0 {
		return l.defaultDeck
	}
	return list[0].Key
}

func contains(list []models.DeckIndexEntry, key string) bool {
	for _, e := range list {
		if e.Key == key {
			return true
		}
	}
	return false
}
