package draw

import (
	"context"
	"errors"

	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/monitor"
	"github.com/themindlocksyndicate/tmls-companion/persistence"
)

// TransactionalIndexDraw is the legacy strategy: the room document carries a
// shuffled deck and an index, and each call advances the index by one inside
// a conditional transaction.
type TransactionalIndexDraw struct {
	store   persistence.Store
	decks   DeckSource
	monitor *monitor.Monitor
}

func NewTransactionalIndexDraw(store persistence.Store, decks DeckSource, mon *monitor.Monitor) *TransactionalIndexDraw {
	return &TransactionalIndexDraw{store: store, decks: decks, monitor: mon}
}

func (d *TransactionalIndexDraw) Name() string { return StrategyTransactional }

// Draw ignores n and always draws exactly one card.
func (d *TransactionalIndexDraw) Draw(ctx context.Context, sc models.SessionContext, n int) (Result, error) {
	var code string
	err := d.store.RunRoomTransaction(ctx, sc.RoomCode, func(room *models.Room) error {
		if room.DeckIndex >= len(room.Deck) {
			return ErrDeckEmpty
		}
		if room.Ending {
			return ErrSessionEnding
		}
		code = room.Deck[room.DeckIndex]
		room.LastCard = code
		room.DeckIndex++
		return nil
	})
	switch {
	case errors.Is(err, ErrDeckEmpty):
		d.monitor.IncDraw(StrategyTransactional, "deck_empty")
		return Result{}, err
	case errors.Is(err, ErrSessionEnding):
		d.monitor.IncDraw(StrategyTransactional, "ending")
		return Result{}, err
	case err != nil:
		d.monitor.IncDraw(StrategyTransactional, "error")
		return Result{}, err
	}
	d.monitor.IncDraw(StrategyTransactional, "ok")

	card := models.Card{Code: code, Title: code}
	if d.decks != nil {
		if dk, err := d.decks.Load(ctx, sc.DeckID); err == nil {
			if c, ok := dk.Card(code); ok {
				card = c
			}
		}
	}
	return Result{DeckID: sc.DeckID, Cards: []models.Card{card}}, nil
}
