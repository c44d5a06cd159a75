package draw

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/persistence"
	"github.com/themindlocksyndicate/tmls-companion/state"
)

// MockDecks serves one fixed deck for every id.
type MockDecks struct {
	deck *models.Deck
	err  error
}

func (m *MockDecks) Load(ctx context.Context, deckID string) (*models.Deck, error) {
	return m.deck, m.err
}

// MockFailingMessages is a memory store whose chat appends always fail.
type MockFailingMessages struct {
	*persistence.MemoryStore
}

func (m *MockFailingMessages) AppendMessage(ctx context.Context, code string, msg models.Message) (models.Message, error) {
	return models.Message{}, errors.New("chat unavailable")
}

func abcDeck() *models.Deck {
	return &models.Deck{ID: "cards", Cards: []models.Card{
		{Code: "A", Title: "Alpha"},
		{Code: "B", Title: "Beta"},
		{Code: "C", Title: "Gamma"},
	}}
}

func codesOf(cards []models.Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.Code
	}
	return out
}

func TestNextUndrawn(t *testing.T) {
	got := codesOf(NextUndrawn([]string{"A"}, abcDeck(), 2))
	if !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("Expected [B C], got %v", got)
	}

	got = codesOf(NextUndrawn([]string{"B"}, abcDeck(), 5))
	if !reflect.DeepEqual(got, []string{"A", "C"}) {
		t.Errorf("Exhausted deck should return what is left, got %v", got)
	}

	if got := NextUndrawn([]string{"A", "B", "C"}, abcDeck(), 1); len(got) != 0 {
		t.Errorf("Expected nothing from a fully drawn deck, got %v", got)
	}
	if got := NextUndrawn(nil, abcDeck(), 0); len(got) != 0 {
		t.Errorf("n=0 should draw nothing, got %v", got)
	}
}

func TestEventLogDraw_AppendsEventAndTranscript(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	defer store.Close()
	store.AppendEvent(ctx, "R1", models.Event{Action: models.ActionDraw, Payload: map[string]any{"cards": []any{"A"}}})

	d := NewEventLogDraw(store, &MockDecks{deck: abcDeck()}, nil)
	res, err := d.Draw(ctx, models.SessionContext{UID: "u1", RoomCode: "R1"}, 2)
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if !reflect.DeepEqual(res.Codes(), []string{"B", "C"}) {
		t.Errorf("Expected [B C], got %v", res.Codes())
	}

	events, _ := store.ListEvents(ctx, "R1")
	st := state.Reduce(events)
	if !reflect.DeepEqual(st.Drawn, []string{"A", "B", "C"}) {
		t.Errorf("Unexpected table after draw: %v", st.Drawn)
	}
	if events[len(events)-1].UID != "u1" {
		t.Error("Draw event should carry the drawing uid")
	}

	msgs, _ := store.ListMessages(ctx, "R1")
	if len(msgs) != 1 || msgs[0].Type != models.MessageCard {
		t.Fatalf("Expected one card message, got %+v", msgs)
	}
	if msgs[0].Payload["deckId"] != "default" {
		t.Errorf("Transcript payload should carry the deck id, got %v", msgs[0].Payload)
	}
}

func TestEventLogDraw_ResolvesPlaceholders(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	defer store.Close()
	// A count-only draw occupies the first deck card.
	store.AppendEvent(ctx, "R1", models.Event{Action: models.ActionDraw, Payload: map[string]any{"n": 1}})

	d := NewEventLogDraw(store, &MockDecks{deck: abcDeck()}, nil)
	res, err := d.Draw(ctx, models.SessionContext{RoomCode: "R1"}, 1)
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if !reflect.DeepEqual(res.Codes(), []string{"B"}) {
		t.Errorf("Expected B after a placeholder took A, got %v", res.Codes())
	}
}

func TestEventLogDraw_ExhaustedIsSilent(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	defer store.Close()
	store.AppendEvent(ctx, "R1", models.Event{Action: models.ActionDraw, Payload: map[string]any{"cards": []any{"A", "B", "C"}}})

	d := NewEventLogDraw(store, &MockDecks{deck: abcDeck()}, nil)
	res, err := d.Draw(ctx, models.SessionContext{RoomCode: "R1"}, 1)
	if err != nil {
		t.Fatalf("Exhausted draw should not fail: %v", err)
	}
	if len(res.Cards) != 0 {
		t.Errorf("Expected no cards, got %v", res.Codes())
	}
	events, _ := store.ListEvents(ctx, "R1")
	msgs, _ := store.ListMessages(ctx, "R1")
	if len(events) != 1 || len(msgs) != 0 {
		t.Errorf("Exhausted draw should write nothing, got %d events and %d messages", len(events), len(msgs))
	}
}

func TestEventLogDraw_TranscriptFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	store := &MockFailingMessages{persistence.NewMemoryStore()}
	defer store.Close()

	d := NewEventLogDraw(store, &MockDecks{deck: abcDeck()}, nil)
	res, err := d.Draw(ctx, models.SessionContext{RoomCode: "R1"}, 1)
	if err != nil {
		t.Fatalf("Transcript failure should not fail the draw: %v", err)
	}
	if !reflect.DeepEqual(res.Codes(), []string{"A"}) {
		t.Errorf("Expected [A], got %v", res.Codes())
	}
}

func TestEventLogDraw_DeckLoadFailure(t *testing.T) {
	store := persistence.NewMemoryStore()
	defer store.Close()

	d := NewEventLogDraw(store, &MockDecks{err: errors.New("offline")}, nil)
	if _, err := d.Draw(context.Background(), models.SessionContext{RoomCode: "R1"}, 1); err == nil {
		t.Error("Expected an error when the deck cannot be loaded")
	}
}

func TestTransactionalIndexDraw_AdvancesIndex(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	defer store.Close()
	store.CreateRoom(ctx, &models.Room{Code: "R1", Deck: []string{"A", "B", "C"}})

	d := NewTransactionalIndexDraw(store, &MockDecks{deck: abcDeck()}, nil)
	res, err := d.Draw(ctx, models.SessionContext{RoomCode: "R1"}, 3)
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if len(res.Cards) != 1 || res.Cards[0].Title != "Alpha" {
		t.Errorf("Expected exactly card A, got %+v", res.Cards)
	}

	room, _ := store.GetRoom(ctx, "R1")
	if room.DeckIndex != 1 || room.LastCard != "A" {
		t.Errorf("Expected index 1 and last card A, got %d / %q", room.DeckIndex, room.LastCard)
	}
}

func TestTransactionalIndexDraw_DeckEmptyWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	defer store.Close()
	store.CreateRoom(ctx, &models.Room{Code: "R1", Deck: []string{"A", "B", "C"}, DeckIndex: 3, LastCard: "C"})

	d := NewTransactionalIndexDraw(store, nil, nil)
	if _, err := d.Draw(ctx, models.SessionContext{RoomCode: "R1"}, 1); !errors.Is(err, ErrDeckEmpty) {
		t.Fatalf("Expected ErrDeckEmpty, got %v", err)
	}
	room, _ := store.GetRoom(ctx, "R1")
	if room.DeckIndex != 3 || room.LastCard != "C" {
		t.Errorf("Room should be untouched, got %+v", room)
	}
}

func TestTransactionalIndexDraw_Ending(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	defer store.Close()
	store.CreateRoom(ctx, &models.Room{Code: "R1", Deck: []string{"A"}, Ending: true})

	d := NewTransactionalIndexDraw(store, nil, nil)
	if _, err := d.Draw(ctx, models.SessionContext{RoomCode: "R1"}, 1); !errors.Is(err, ErrSessionEnding) {
		t.Fatalf("Expected ErrSessionEnding, got %v", err)
	}
	room, _ := store.GetRoom(ctx, "R1")
	if room.DeckIndex != 0 {
		t.Error("Ending room should not advance its index")
	}
}

func TestTransactionalIndexDraw_MissingRoom(t *testing.T) {
	store := persistence.NewMemoryStore()
	defer store.Close()

	d := NewTransactionalIndexDraw(store, nil, nil)
	if _, err := d.Draw(context.Background(), models.SessionContext{RoomCode: "NOPE"}, 1); !errors.Is(err, persistence.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}
