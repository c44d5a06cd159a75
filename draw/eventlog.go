package draw

import (
	"context"
	"fmt"

	"github.com/themindlocksyndicate/tmls-companion/deck"
	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/monitor"
	"github.com/themindlocksyndicate/tmls-companion/persistence"
	"github.com/themindlocksyndicate/tmls-companion/state"
)

// EventLogDraw reads the event log, picks the next undrawn cards in deck
// order and appends them as one draw event. Read and append are not atomic:
// two concurrent draws may pick the same cards, and the reducer's duplicate
// skip keeps the table consistent.
type EventLogDraw struct {
	store   persistence.Store
	decks   DeckSource
	monitor *monitor.Monitor
}

func NewEventLogDraw(store persistence.Store, decks DeckSource, mon *monitor.Monitor) *EventLogDraw {
	return &EventLogDraw{store: store, decks: decks, monitor: mon}
}

func (d *EventLogDraw) Name() string { return StrategyEventLog }

func (d *EventLogDraw) Draw(ctx context.Context, sc models.SessionContext, n int) (Result, error) {
	events, err := d.store.ListEvents(ctx, sc.RoomCode)
	if err != nil {
		d.monitor.IncDraw(StrategyEventLog, "error")
		return Result{}, fmt.Errorf("read events: %w", err)
	}
	st := state.Reduce(events)

	dk, err := d.decks.Load(ctx, st.DeckID)
	if err != nil {
		d.monitor.IncDraw(StrategyEventLog, "error")
		return Result{}, fmt.Errorf("load deck %s: %w", st.DeckID, err)
	}

	picked := NextUndrawn(state.ResolvePlaceholders(st, dk), dk, n)
	if len(picked) == 0 {
		d.monitor.IncDraw(StrategyEventLog, "exhausted")
		return Result{DeckID: st.DeckID}, nil
	}

	res := Result{DeckID: st.DeckID, Cards: picked}
	codes := res.Codes()
	cards := make([]any, len(codes))
	for i, c := range codes {
		cards[i] = c
	}

	if _, err := d.store.AppendEvent(ctx, sc.RoomCode, models.Event{
		Action:  models.ActionDraw,
		Payload: map[string]any{"cards": cards},
		UID:     sc.UID,
	}); err != nil {
		d.monitor.IncDraw(StrategyEventLog, "error")
		return Result{}, fmt.Errorf("append draw: %w", err)
	}
	d.monitor.IncEvent(string(models.ActionDraw))
	d.monitor.IncDraw(StrategyEventLog, "ok")

	// The transcript is a courtesy; the event above is the source of truth.
	if _, err := d.store.AppendMessage(ctx, sc.RoomCode, models.Message{
		UID:     sc.UID,
		Type:    models.MessageCard,
		Text:    deck.RenderTranscript(picked),
		Payload: map[string]any{"deckId": st.DeckID, "codes": cards},
	}); err != nil {
		d.monitor.IncBestEffortFailure("draw_transcript")
		logger.Log.Warnf("Room %s: draw transcript not posted: %v", sc.RoomCode, err)
	}
	return res, nil
}
