// draw/draw.go
package draw

import (
	"context"
	"errors"

	"github.com/themindlocksyndicate/tmls-companion/models"
)

// 抽牌错误
var (
	ErrDeckEmpty     = errors.New("deck is empty")
	ErrSessionEnding = errors.New("session is ending")
)

// Strategy names as they appear in configuration and metrics.
const (
	StrategyEventLog      = "eventlog"
	StrategyTransactional = "transactional"
)

// Result lists the cards a draw put on the table, in draw order.
type Result struct {
	DeckID string        `json:"deck_id"`
	Cards  []models.Card `json:"cards"`
}

// Codes returns the drawn card codes.
func (r Result) Codes() []string {
	codes := make([]string, len(r.Cards))
	for i, c := range r.Cards {
		codes[i] = c.Code
	}
	return codes
}

// Strategy draws up to n cards for the participant in sc.
type Strategy interface {
	Name() string
	Draw(ctx context.Context, sc models.SessionContext, n int) (Result, error)
}

// DeckSource loads decks by id.
type DeckSource interface {
	Load(ctx context.Context, deckID string) (*models.Deck, error)
}

// NextUndrawn walks the deck in order and returns up to n cards whose codes
// are not in drawn. It returns fewer only when the deck runs out.
func NextUndrawn(drawn []string, deck *models.Deck, n int) []models.Card {
	if deck == nil || n <= 0 {
		return nil
	}
	taken := make(map[string]bool, len(drawn))
	for _, c := range drawn {
		taken[c] = true
	}

	var out []models.Card
	for _, card := range deck.Cards {
		if len(out) == n {
			break
		}
		if taken[card.Code] {
			continue
		}
		taken[card.Code] = true
		out = append(out, card)
	}
	return out
}
