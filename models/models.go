// models/models.go
package models

import (
	"time"
)

// Action 事件日志中的动作类型
type Action string

const (
	ActionInit  Action = "init"
	ActionDraw  Action = "draw"
	ActionFlip  Action = "flip"
	ActionReset Action = "reset"
)

// Sub-collection names under rooms/{code}.
const (
	CollectionParticipants = "participants"
	CollectionMessages     = "messages"
	CollectionEvents       = "events"
)

// DefaultDeckID is the deck a room starts on before any init event.
const DefaultDeckID = "default"

// Event is one append-only record of the room event log.
type Event struct {
	ID        string         `json:"id"`
	Action    Action         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	UID       string         `json:"uid"`
	CreatedAt time.Time      `json:"created_at"`
}

// Before reports whether e sorts ahead of other in log order.
func (e Event) Before(other Event) bool {
	if e.CreatedAt.Equal(other.CreatedAt) {
		return e.ID < other.ID
	}
	return e.CreatedAt.Before(other.CreatedAt)
}

// RoomState 由事件日志折叠得到的房间视图，不持久化
type RoomState struct {
	DeckID string `json:"deck_id"`
	// Drawn keeps draw order; an empty string is a placeholder slot from a count-only draw.
	Drawn    []string            `json:"drawn"`
	Revealed map[string]struct{} `json:"-"`
}

// IsRevealed reports whether code is face up.
func (s RoomState) IsRevealed(code string) bool {
	_, ok := s.Revealed[code]
	return ok
}

// HasDrawn reports whether code is already on the table.
func (s RoomState) HasDrawn(code string) bool {
	for _, c := range s.Drawn {
		if c == code {
			return true
		}
	}
	return false
}

// RevealedCodes returns the revealed set in draw order, then any stragglers.
func (s RoomState) RevealedCodes() []string {
	out := make([]string, 0, len(s.Revealed))
	seen := make(map[string]bool, len(s.Revealed))
	for _, c := range s.Drawn {
		if _, ok := s.Revealed[c]; ok && !seen[c] {
			out = append(out, c)
			seen[c] = true
		}
	}
	for c := range s.Revealed {
		if !seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// Card 牌组中的一张牌
type Card struct {
	Code     string         `json:"code"`
	Title    string         `json:"title"`
	Subtitle string         `json:"subtitle,omitempty"`
	Category string         `json:"category,omitempty"`
	Symbol   string         `json:"symbol,omitempty"`
	Rarity   string         `json:"rarity,omitempty"`
	Color    string         `json:"color,omitempty"`
	Hints    []string       `json:"hints,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// DeckTemplates holds the raw SVG text of a deck's card faces.
type DeckTemplates struct {
	Front string `json:"front,omitempty"`
	Back  string `json:"back,omitempty"`
}

// Deck 牌组，加载后不可变
type Deck struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Cards     []Card         `json:"cards"`
	Config    map[string]any `json:"config,omitempty"`
	Templates DeckTemplates  `json:"templates"`
}

// Codes returns the card codes in deck order.
func (d *Deck) Codes() []string {
	codes := make([]string, len(d.Cards))
	for i, c := range d.Cards {
		codes[i] = c.Code
	}
	return codes
}

// Card looks up a card by code.
func (d *Deck) Card(code string) (Card, bool) {
	for _, c := range d.Cards {
		if c.Code == code {
			return c, true
		}
	}
	return Card{}, false
}

// DeckIndexEntry is one row of the dataset's index.json.
type DeckIndexEntry struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Room 房间根文档（会话标志）
type Room struct {
	Code            string    `json:"code"`
	HypnotistUID    string    `json:"hypnotist_uid"`
	SubjectsCanDraw bool      `json:"subjects_can_draw"`
	Ending          bool      `json:"ending"`
	DeckIndex       int       `json:"deck_index"`
	Deck            []string  `json:"deck,omitempty"`
	LastCard        string    `json:"last_card,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// Role of a participant inside a room.
type Role string

const (
	RoleHypnotist Role = "hypnotist"
	RoleSubject   Role = "subject"
)

// Participant 房间参与者
type Participant struct {
	UID          string    `json:"uid"`
	Role         Role      `json:"role"`
	DisplayName  string    `json:"display_name"`
	LastActiveAt time.Time `json:"last_active_at"`
	IsTyping     bool      `json:"is_typing"`
}

// Active reports whether the participant sent a heartbeat within window.
func (p Participant) Active(now time.Time, window time.Duration) bool {
	return !p.LastActiveAt.IsZero() && now.Sub(p.LastActiveAt) < window
}

// MessageType distinguishes chat bubbles.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageCard   MessageType = "card"
	MessageSystem MessageType = "system"
)

// Message 聊天消息
type Message struct {
	ID        string         `json:"id"`
	UID       string         `json:"uid"`
	Type      MessageType    `json:"type"`
	Text      string         `json:"text"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SessionContext is the explicit per-participant context threaded through
// the reducer consumers, the draw strategies and the transport.
type SessionContext struct {
	UID      string `json:"uid"`
	RoomCode string `json:"room_code"`
	Host     bool   `json:"host"`
	DeckID   string `json:"deck_id,omitempty"`
}
