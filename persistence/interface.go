// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/themindlocksyndicate/tmls-companion/models"
)

// Store is the document database as the room code sees it: a root room
// document per code with participants, messages and events sub-collections.
// Listeners receive whole snapshots ordered by creation time, then id.
type Store interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, code string) (*models.Room, error)
	UpdateRoom(ctx context.Context, code string, update RoomUpdate) error
	// RunRoomTransaction reads the room, lets fn mutate it and writes it back
	// atomically. An error from fn aborts without writing.
	RunRoomTransaction(ctx context.Context, code string, fn func(room *models.Room) error) error
	DeleteRoom(ctx context.Context, code string) error

	UpsertParticipant(ctx context.Context, code string, p models.Participant) error
	UpdateParticipant(ctx context.Context, code, uid string, update ParticipantUpdate) error
	ListParticipants(ctx context.Context, code string) ([]models.Participant, error)

	AppendEvent(ctx context.Context, code string, evt models.Event) (models.Event, error)
	ListEvents(ctx context.Context, code string) ([]models.Event, error)
	AppendMessage(ctx context.Context, code string, msg models.Message) (models.Message, error)
	ListMessages(ctx context.Context, code string) ([]models.Message, error)

	// ListPage returns up to limit document ids of a sub-collection.
	ListPage(ctx context.Context, code, collection string, limit int) ([]string, error)
	DeleteDocs(ctx context.Context, code, collection string, ids []string) error

	SubscribeEvents(ctx context.Context, code string, fn func([]models.Event)) (Subscription, error)
	SubscribeMessages(ctx context.Context, code string, fn func([]models.Message)) (Subscription, error)
	SubscribeParticipants(ctx context.Context, code string, fn func([]models.Participant)) (Subscription, error)
	// SubscribeRoom delivers nil once the room document is gone.
	SubscribeRoom(ctx context.Context, code string, fn func(*models.Room)) (Subscription, error)

	Close() error
}

// Subscription stops a live listener.
type Subscription interface {
	Close()
}

// SubscriptionFunc adapts a plain func to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Close() { f() }

// RoomUpdate lists the root document fields to change; nil fields are left alone.
type RoomUpdate struct {
	Ending          *bool
	SubjectsCanDraw *bool
	LastActivityAt  *time.Time
}

// ParticipantUpdate lists participant fields to change; nil fields are left alone.
type ParticipantUpdate struct {
	LastActiveAt *time.Time
	IsTyping     *bool
}

// 错误定义
var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrAlreadyExists     = errors.New("record already exists")
	ErrUnknownCollection = errors.New("unknown collection")
)

func checkCollection(collection string) error {
	switch collection {
	case models.CollectionParticipants, models.CollectionMessages, models.CollectionEvents:
		return nil
	}
	return ErrUnknownCollection
}

// topicRoom is the watch key of the root document itself.
const topicRoom = "room"
