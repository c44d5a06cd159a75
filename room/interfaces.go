package room

import (
	"context"

	"github.com/themindlocksyndicate/tmls-companion/models"
)

// Broadcaster defines the interface for pushing packets to a room's connections.
// This is defined here to break the import cycle between room and broadcast.
type Broadcaster interface {
	BroadcastToRoom(roomCode string, msgID uint16, data []byte) error
}

// DeckSource loads immutable decks by id.
type DeckSource interface {
	Load(ctx context.Context, deckID string) (*models.Deck, error)
}
