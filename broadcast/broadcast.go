// broadcast/broadcast.go
package broadcast

import (
	"errors"

	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/session"
)

var (
	ErrRoomNotFound = errors.New("room not found")
)

// 广播接口
type Broadcaster interface {
	BroadcastToRoom(roomCode string, msgID uint16, data []byte) error
	BroadcastToUsers(uids []string, msgID uint16, data []byte) error
}

// 基于房间的广播器
type RoomBroadcaster struct {
	sessionManager *session.Manager
}

func NewRoomBroadcaster(sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		sessionManager: sessionManager,
	}
}

func (b *RoomBroadcaster) BroadcastToRoom(roomCode string, msgID uint16, data []byte) error {
	sessions := b.sessionManager.GetByRoom(roomCode)
	if len(sessions) == 0 {
		return ErrRoomNotFound
	}

	for _, s := range sessions {
		if err := s.Send(msgID, data); err != nil {
			// The read loop notices the broken connection and cleans it up.
			logger.Log.Debugf("Broadcast to session %s failed: %v", s.GetID(), err)
			continue
		}
	}

	return nil
}

func (b *RoomBroadcaster) BroadcastToUsers(uids []string, msgID uint16, data []byte) error {
	for _, uid := range uids {
		for _, s := range b.sessionManager.GetByUID(uid) {
			if err := s.Send(msgID, data); err != nil {
				logger.Log.Debugf("Send to session %s failed: %v", s.GetID(), err)
				continue
			}
		}
	}
	return nil
}
