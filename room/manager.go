package room

import (
	"context"
	"sync"

	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/monitor"
	"github.com/themindlocksyndicate/tmls-companion/persistence"
	"github.com/themindlocksyndicate/tmls-companion/state"
)

// --- 房间管理器 ---

// Manager 管理本进程内所有活跃的房间会话
type Manager struct {
	rooms       map[string]*RoomSession
	mutex       sync.RWMutex
	store       persistence.Store
	decks       DeckSource
	broadcaster Broadcaster
	monitor     *monitor.Monitor
	defaultDeck string
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager(store persistence.Store, decks DeckSource, broadcaster Broadcaster, mon *monitor.Monitor, defaultDeck string) *Manager {
	return &Manager{
		rooms:       make(map[string]*RoomSession),
		store:       store,
		decks:       decks,
		broadcaster: broadcaster,
		monitor:     mon,
		defaultDeck: defaultDeck,
	}
}

// Open returns the live session of a room, starting one on first use.
func (m *Manager) Open(ctx context.Context, code string) (*RoomSession, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if r, exists := m.rooms[code]; exists {
		return r, nil
	}

	r := NewRoomSession(code, m.store, m.decks, m.broadcaster, m.defaultDeck)
	// Lifecycle handlers run under the machine lock: never call back into it here.
	r.Subscribe(state.TopicLifecycle, func(payload any) {
		if payload == state.LifecycleClosed {
			go m.remove(r)
		}
	})
	if err := r.Start(ctx); err != nil {
		r.Close()
		return nil, err
	}
	m.rooms[code] = r
	m.monitor.SetActiveRooms(len(m.rooms))
	logger.Log.Infof("Room session %s opened", code)
	return r, nil
}

// RemoveRoom 从管理器中移除并关闭一个房间会话
func (m *Manager) RemoveRoom(code string) {
	m.mutex.Lock()
	r, exists := m.rooms[code]
	if exists {
		delete(m.rooms, code)
		m.monitor.SetActiveRooms(len(m.rooms))
	}
	m.mutex.Unlock()

	if exists {
		r.Close()
		logger.Log.Infof("Room session %s closed", code)
	}
}

// remove drops r only if it is still the registered session of its room.
func (m *Manager) remove(r *RoomSession) {
	m.mutex.Lock()
	current, exists := m.rooms[r.Code]
	if exists && current == r {
		delete(m.rooms, r.Code)
		m.monitor.SetActiveRooms(len(m.rooms))
	}
	m.mutex.Unlock()
	r.Close()
}

// GetRoom 从管理器中获取一个房间会话
func (m *Manager) GetRoom(code string) (*RoomSession, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	r, exists := m.rooms[code]
	return r, exists
}

// Count returns the number of open room sessions.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// CloseAll shuts every session down, used on server shutdown.
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*RoomSession)
	m.mutex.Unlock()

	for _, r := range rooms {
		r.Close()
	}
	m.monitor.SetActiveRooms(0)
}
