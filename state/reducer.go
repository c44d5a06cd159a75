package state

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/themindlocksyndicate/tmls-companion/models"
)

// NewRoomState returns the state of a room with an empty event log.
func NewRoomState() models.RoomState {
	return models.RoomState{
		DeckID:   models.DefaultDeckID,
		Drawn:    []string{},
		Revealed: make(map[string]struct{}),
	}
}

// Reduce folds an ordered event log into the room view. It is a pure
// function of its input: replaying the same log always yields the same state.
func Reduce(events []models.Event) models.RoomState {
	st := NewRoomState()
	for _, evt := range events {
		st = Fold(st, evt)
	}
	return st
}

// Fold applies one event. It takes ownership of st; callers pass the
// accumulator of a fold, never a state they keep using.
// Events it cannot interpret are skipped.
func Fold(st models.RoomState, evt models.Event) models.RoomState {
	switch evt.Action {
	case models.ActionInit:
		if evt.Payload == nil {
			return st
		}
		if deckID, ok := evt.Payload["deckId"].(string); ok && strings.TrimSpace(deckID) != "" {
			st.DeckID = strings.TrimSpace(deckID)
		}
	case models.ActionReset:
		st.Drawn = []string{}
		st.Revealed = make(map[string]struct{})
	case models.ActionDraw:
		if evt.Payload == nil {
			return st
		}
		if codes := payloadCodes(evt.Payload["cards"]); len(codes) > 0 {
			for _, code := range codes {
				if !st.HasDrawn(code) {
					st.Drawn = append(st.Drawn, code)
				}
			}
			return st
		}
		for i := payloadCount(evt.Payload["n"]); i > 0; i-- {
			st.Drawn = append(st.Drawn, "")
		}
	case models.ActionFlip:
		if evt.Payload == nil {
			return st
		}
		code := NormalizeCode(evt.Payload["card"])
		if code == "" {
			return st
		}
		if st.Revealed == nil {
			st.Revealed = make(map[string]struct{})
		}
		if _, ok := st.Revealed[code]; ok {
			delete(st.Revealed, code)
		} else {
			st.Revealed[code] = struct{}{}
		}
	}
	return st
}

// NormalizeCode turns a payload value into a card code. Codes compare upper case.
func NormalizeCode(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToUpper(strings.TrimSpace(c))
	case json.Number:
		return strings.ToUpper(c.String())
	case float64:
		return strings.ToUpper(fmt.Sprint(c))
	default:
		return strings.ToUpper(strings.TrimSpace(fmt.Sprint(c)))
	}
}

func payloadCodes(v any) []string {
	var raw []any
	switch cards := v.(type) {
	case []any:
		raw = cards
	case []string:
		raw = make([]any, len(cards))
		for i, c := range cards {
			raw[i] = c
		}
	default:
		return nil
	}

	codes := make([]string, 0, len(raw))
	for _, c := range raw {
		if code := NormalizeCode(c); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// payloadCount reads the placeholder count of a count-only draw; anything
// missing or below one counts as one.
func payloadCount(v any) int {
	n := 1
	switch c := v.(type) {
	case int:
		n = c
	case int64:
		n = int(c)
	case float64:
		if !math.IsNaN(c) && c < math.MaxInt32 {
			n = int(c)
		}
	case json.Number:
		if i, err := c.Int64(); err == nil && i < math.MaxInt32 {
			n = int(i)
		}
	}
	if n < 1 {
		return 1
	}
	return n
}

// ResolvePlaceholders maps the placeholder slots of st.Drawn onto deck
// order: each slot takes the first deck code not already on the table.
// Slots the deck cannot fill are dropped.
func ResolvePlaceholders(st models.RoomState, deck *models.Deck) []string {
	var order []string
	if deck != nil {
		order = deck.Codes()
	}

	resolved := make([]string, 0, len(st.Drawn))
	taken := make(map[string]bool, len(st.Drawn))
	next := 0
	for _, mark := range st.Drawn {
		if mark != "" {
			resolved = append(resolved, mark)
			taken[mark] = true
			continue
		}
		for next < len(order) && taken[order[next]] {
			next++
		}
		if next < len(order) {
			resolved = append(resolved, order[next])
			taken[order[next]] = true
			next++
		}
	}
	return resolved
}

// HasInit reports whether the log already carries an init event.
func HasInit(events []models.Event) bool {
	for _, evt := range events {
		if evt.Action == models.ActionInit {
			return true
		}
	}
	return false
}
