// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/network"
)

// Session is one connected participant.
type Session struct {
	ID         string
	Conn       network.Connection
	Ctx        models.SessionContext
	CreatedAt  time.Time
	LastActive time.Time
	timerID    int64
	mutex      sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		LastActive: now,
	}
}

func (s *Session) Send(msgID uint16, data []byte) error {
	s.Touch()
	return s.Conn.Send(msgID, data)
}

func (s *Session) GetID() string {
	return s.ID
}

// Touch records activity on the connection.
func (s *Session) Touch() {
	s.mutex.Lock()
	s.LastActive = time.Now()
	s.mutex.Unlock()
}

// Context returns a copy of the session context.
func (s *Session) Context() models.SessionContext {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Ctx
}

// SetContext replaces the session context (identity, room, host flag).
func (s *Session) SetContext(ctx models.SessionContext) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Ctx = ctx
}

// SetTimer remembers the presence timer of the session; it returns the previous id.
func (s *Session) SetTimer(id int64) int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	prev := s.timerID
	s.timerID = id
	return prev
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

func (m *Manager) GetByUID(uid string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.Context().UID == uid {
			result = append(result, session)
		}
	}
	return result
}

// GetByRoom returns the sessions attached to a room code.
func (m *Manager) GetByRoom(roomCode string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.Context().RoomCode == roomCode {
			result = append(result, session)
		}
	}
	return result
}
