// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormRoom 房间根文档表
type GormRoom struct {
	gorm.Model
	Code            string         `gorm:"uniqueIndex;not null"`
	HypnotistUID    string         `gorm:"not null"`
	SubjectsCanDraw bool           `gorm:"default:false"`
	Ending          bool           `gorm:"default:false"`
	DeckIndex       int            `gorm:"default:0"`
	Deck            []string       `gorm:"serializer:json"`
	LastCard        string
	LastActivityAt  time.Time
}

func (GormRoom) TableName() string { return "rooms" }

// ToRoom converts the row into the domain document.
func (r *GormRoom) ToRoom() *Room {
	return &Room{
		Code:            r.Code,
		HypnotistUID:    r.HypnotistUID,
		SubjectsCanDraw: r.SubjectsCanDraw,
		Ending:          r.Ending,
		DeckIndex:       r.DeckIndex,
		Deck:            append([]string(nil), r.Deck...),
		LastCard:        r.LastCard,
		CreatedAt:       r.CreatedAt,
		LastActivityAt:  r.LastActivityAt,
	}
}

// GormParticipant 参与者表
type GormParticipant struct {
	RoomCode     string `gorm:"primaryKey"`
	UID          string `gorm:"primaryKey"`
	Role         string `gorm:"not null"`
	DisplayName  string
	LastActiveAt time.Time
	IsTyping     bool
	CreatedAt    time.Time `gorm:"index"`
}

func (GormParticipant) TableName() string { return "participants" }

func (p *GormParticipant) ToParticipant() Participant {
	return Participant{
		UID:          p.UID,
		Role:         Role(p.Role),
		DisplayName:  p.DisplayName,
		LastActiveAt: p.LastActiveAt,
		IsTyping:     p.IsTyping,
	}
}

// GormMessage 聊天消息表
type GormMessage struct {
	ID        string         `gorm:"primaryKey"`
	RoomCode  string         `gorm:"index:idx_messages_room_created,priority:1;not null"`
	UID       string         `gorm:"not null"`
	Type      string         `gorm:"not null"`
	Text      string         `gorm:"type:text"`
	Payload   map[string]any `gorm:"serializer:json"`
	CreatedAt time.Time      `gorm:"index:idx_messages_room_created,priority:2"`
}

func (GormMessage) TableName() string { return "messages" }

func (m *GormMessage) ToMessage() Message {
	return Message{
		ID:        m.ID,
		UID:       m.UID,
		Type:      MessageType(m.Type),
		Text:      m.Text,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt,
	}
}

// GormEvent 事件日志表（只追加）
type GormEvent struct {
	ID        string         `gorm:"primaryKey"`
	RoomCode  string         `gorm:"index:idx_events_room_created,priority:1;not null"`
	Action    string         `gorm:"not null"`
	Payload   map[string]any `gorm:"serializer:json"`
	UID       string
	CreatedAt time.Time `gorm:"index:idx_events_room_created,priority:2"`
}

func (GormEvent) TableName() string { return "events" }

func (e *GormEvent) ToEvent() Event {
	return Event{
		ID:        e.ID,
		Action:    Action(e.Action),
		Payload:   e.Payload,
		UID:       e.UID,
		CreatedAt: e.CreatedAt,
	}
}
