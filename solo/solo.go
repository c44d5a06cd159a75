// solo/solo.go
package solo

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/themindlocksyndicate/tmls-companion/models"
)

var ErrNoCards = errors.New("no cards to draw from")

// Options 单人抽牌参数
type Options struct {
	Deck     string
	Category string
	// Seed reproduces a draw; empty means a fresh random seed.
	Seed   string
	Symbol string
	// LastKey is the Key of the previous draw, used to avoid showing the same card twice in a row.
	LastKey string
}

// Result of a single solo draw.
type Result struct {
	Card  models.Card `json:"card"`
	Index int         `json:"index"`
	Pool  int         `json:"pool"`
	Seed  string      `json:"seed"`
	// Symbol is the symbol key to render, from the request or the card.
	Symbol    string `json:"symbol"`
	Permalink string `json:"permalink"`
	Key       string `json:"key"`
}

func drawKey(deck, category string, idx int) string {
	if category == "" {
		category = "*"
	}
	return fmt.Sprintf("%s::%s::%d", deck, category, idx)
}

// Draw picks one card from cards, optionally restricted to a category.
func Draw(cards []models.Card, opts Options) (Result, error) {
	pool := cards
	if opts.Category != "" {
		pool = make([]models.Card, 0, len(cards))
		for _, c := range cards {
			if strings.TrimSpace(c.Category) == opts.Category {
				pool = append(pool, c)
			}
		}
	}
	if len(pool) == 0 {
		return Result{}, ErrNoCards
	}

	seed := opts.Seed
	if seed == "" {
		seed = uuid.New().String()
	}

	rng := NewRand(seed + "|" + opts.Deck + "|" + opts.Category)
	idx := rng.Intn(len(pool))
	if opts.LastKey != "" && drawKey(opts.Deck, opts.Category, idx) == opts.LastKey && len(pool) > 1 {
		idx = (idx + 1 + rng.Intn(len(pool)-1)) % len(pool)
	}

	card := pool[idx]
	symbol := strings.TrimSpace(opts.Symbol)
	if symbol == "" {
		symbol = SymbolKey(card)
	}

	return Result{
		Card:      card,
		Index:     idx,
		Pool:      len(pool),
		Seed:      seed,
		Symbol:    symbol,
		Permalink: Permalink(opts.Deck, opts.Category, seed, opts.Symbol),
		Key:       drawKey(opts.Deck, opts.Category, idx),
	}, nil
}

// Permalink encodes a draw as query parameters that reproduce it.
func Permalink(deck, category, seed, symbol string) string {
	q := url.Values{}
	q.Set("deck", deck)
	if category != "" {
		q.Set("category", category)
	}
	q.Set("seed", seed)
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	return "?" + q.Encode()
}

// SymbolKey derives the kebab-case symbol asset name of a card.
func SymbolKey(card models.Card) string {
	raw := card.Symbol
	for _, k := range []string{"symbol_key", "symbolName", "symbol_name", "symbol_id"} {
		if s, ok := card.Extra[k].(string); ok && s != "" {
			raw = s
			break
		}
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}
