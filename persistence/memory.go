package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/themindlocksyndicate/tmls-companion/models"
)

type memoryRoom struct {
	doc          models.Room
	participants map[string]models.Participant
	joined       map[string]time.Time
	messages     []models.Message
	events       []models.Event
}

// MemoryStore keeps rooms in process memory. Listeners are fed from
// background goroutines, like a hosted database would.
type MemoryStore struct {
	rooms map[string]*memoryRoom
	hub   *watchHub
	mutex sync.RWMutex
	last  time.Time
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*memoryRoom),
		hub:   newWatchHub(),
		now:   time.Now,
	}
}

// timestamp hands out strictly increasing server times so append order is log order.
// Callers hold the write lock.
func (m *MemoryStore) timestamp() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Nanosecond)
	}
	m.last = t
	return t
}

// room returns the room's sub-collections, creating them for writes to a
// room that has no root document (document databases allow orphans).
func (m *MemoryStore) room(code string) *memoryRoom {
	r, ok := m.rooms[code]
	if !ok {
		r = &memoryRoom{
			participants: make(map[string]models.Participant),
			joined:       make(map[string]time.Time),
		}
		m.rooms[code] = r
	}
	return r
}

func (m *MemoryStore) hasDoc(code string) bool {
	r, ok := m.rooms[code]
	return ok && r.doc.Code != ""
}

func cloneRoom(r models.Room) *models.Room {
	r.Deck = append([]string(nil), r.Deck...)
	return &r
}

func (m *MemoryStore) CreateRoom(ctx context.Context, room *models.Room) error {
	m.mutex.Lock()
	if m.hasDoc(room.Code) {
		m.mutex.Unlock()
		return ErrAlreadyExists
	}
	doc := *cloneRoom(*room)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = m.timestamp()
	}
	m.room(room.Code).doc = doc
	m.mutex.Unlock()

	m.hub.poke(room.Code, topicRoom)
	return nil
}

func (m *MemoryStore) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if !m.hasDoc(code) {
		return nil, ErrRecordNotFound
	}
	return cloneRoom(m.rooms[code].doc), nil
}

func (m *MemoryStore) UpdateRoom(ctx context.Context, code string, update RoomUpdate) error {
	m.mutex.Lock()
	if !m.hasDoc(code) {
		m.mutex.Unlock()
		return ErrRecordNotFound
	}
	doc := &m.rooms[code].doc
	if update.Ending != nil {
		doc.Ending = *update.Ending
	}
	if update.SubjectsCanDraw != nil {
		doc.SubjectsCanDraw = *update.SubjectsCanDraw
	}
	if update.LastActivityAt != nil {
		doc.LastActivityAt = *update.LastActivityAt
	}
	m.mutex.Unlock()

	m.hub.poke(code, topicRoom)
	return nil
}

func (m *MemoryStore) RunRoomTransaction(ctx context.Context, code string, fn func(room *models.Room) error) error {
	m.mutex.Lock()
	if !m.hasDoc(code) {
		m.mutex.Unlock()
		return ErrRecordNotFound
	}
	working := cloneRoom(m.rooms[code].doc)
	if err := fn(working); err != nil {
		m.mutex.Unlock()
		return err
	}
	working.Code = code
	m.rooms[code].doc = *working
	m.mutex.Unlock()

	m.hub.poke(code, topicRoom)
	return nil
}

func (m *MemoryStore) DeleteRoom(ctx context.Context, code string) error {
	m.mutex.Lock()
	if !m.hasDoc(code) {
		m.mutex.Unlock()
		return ErrRecordNotFound
	}
	r := m.rooms[code]
	r.doc = models.Room{}
	if len(r.participants) == 0 && len(r.messages) == 0 && len(r.events) == 0 {
		delete(m.rooms, code)
	}
	m.mutex.Unlock()

	m.hub.poke(code, topicRoom)
	return nil
}

func (m *MemoryStore) UpsertParticipant(ctx context.Context, code string, p models.Participant) error {
	m.mutex.Lock()
	r := m.room(code)
	if p.LastActiveAt.IsZero() {
		p.LastActiveAt = m.timestamp()
	}
	if _, ok := r.joined[p.UID]; !ok {
		r.joined[p.UID] = m.timestamp()
	}
	r.participants[p.UID] = p
	m.mutex.Unlock()

	m.hub.poke(code, models.CollectionParticipants)
	return nil
}

func (m *MemoryStore) UpdateParticipant(ctx context.Context, code, uid string, update ParticipantUpdate) error {
	m.mutex.Lock()
	r, ok := m.rooms[code]
	if !ok {
		m.mutex.Unlock()
		return ErrRecordNotFound
	}
	p, ok := r.participants[uid]
	if !ok {
		m.mutex.Unlock()
		return ErrRecordNotFound
	}
	if update.LastActiveAt != nil {
		p.LastActiveAt = *update.LastActiveAt
	}
	if update.IsTyping != nil {
		p.IsTyping = *update.IsTyping
	}
	r.participants[uid] = p
	m.mutex.Unlock()

	m.hub.poke(code, models.CollectionParticipants)
	return nil
}

func (m *MemoryStore) ListParticipants(ctx context.Context, code string) ([]models.Participant, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.participantsLocked(code), nil
}

func (m *MemoryStore) participantsLocked(code string) []models.Participant {
	r, ok := m.rooms[code]
	if !ok {
		return []models.Participant{}
	}
	out := make([]models.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := r.joined[out[i].UID], r.joined[out[j].UID]
		if ti.Equal(tj) {
			return out[i].UID < out[j].UID
		}
		return ti.Before(tj)
	})
	return out
}

func (m *MemoryStore) AppendEvent(ctx context.Context, code string, evt models.Event) (models.Event, error) {
	m.mutex.Lock()
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	evt.CreatedAt = m.timestamp()
	r := m.room(code)
	r.events = append(r.events, evt)
	m.mutex.Unlock()

	m.hub.poke(code, models.CollectionEvents)
	return evt, nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, code string) ([]models.Event, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	r, ok := m.rooms[code]
	if !ok {
		return []models.Event{}, nil
	}
	return append([]models.Event{}, r.events...), nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, code string, msg models.Message) (models.Message, error) {
	m.mutex.Lock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.CreatedAt = m.timestamp()
	r := m.room(code)
	r.messages = append(r.messages, msg)
	m.mutex.Unlock()

	m.hub.poke(code, models.CollectionMessages)
	return msg, nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, code string) ([]models.Message, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	r, ok := m.rooms[code]
	if !ok {
		return []models.Message{}, nil
	}
	return append([]models.Message{}, r.messages...), nil
}

func (m *MemoryStore) ListPage(ctx context.Context, code, collection string, limit int) ([]string, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var ids []string
	switch collection {
	case models.CollectionParticipants:
		for _, p := range m.participantsLocked(code) {
			ids = append(ids, p.UID)
		}
	case models.CollectionMessages:
		if r, ok := m.rooms[code]; ok {
			for _, msg := range r.messages {
				ids = append(ids, msg.ID)
			}
		}
	case models.CollectionEvents:
		if r, ok := m.rooms[code]; ok {
			for _, evt := range r.events {
				ids = append(ids, evt.ID)
			}
		}
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *MemoryStore) DeleteDocs(ctx context.Context, code, collection string, ids []string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	m.mutex.Lock()
	if r, ok := m.rooms[code]; ok {
		switch collection {
		case models.CollectionParticipants:
			for id := range drop {
				delete(r.participants, id)
				delete(r.joined, id)
			}
		case models.CollectionMessages:
			kept := r.messages[:0]
			for _, msg := range r.messages {
				if !drop[msg.ID] {
					kept = append(kept, msg)
				}
			}
			r.messages = kept
		case models.CollectionEvents:
			kept := r.events[:0]
			for _, evt := range r.events {
				if !drop[evt.ID] {
					kept = append(kept, evt)
				}
			}
			r.events = kept
		}
	}
	m.mutex.Unlock()

	m.hub.poke(code, collection)
	return nil
}

func (m *MemoryStore) SubscribeEvents(ctx context.Context, code string, fn func([]models.Event)) (Subscription, error) {
	return m.hub.add(code, models.CollectionEvents, func() {
		events, _ := m.ListEvents(ctx, code)
		fn(events)
	}), nil
}

func (m *MemoryStore) SubscribeMessages(ctx context.Context, code string, fn func([]models.Message)) (Subscription, error) {
	return m.hub.add(code, models.CollectionMessages, func() {
		messages, _ := m.ListMessages(ctx, code)
		fn(messages)
	}), nil
}

func (m *MemoryStore) SubscribeParticipants(ctx context.Context, code string, fn func([]models.Participant)) (Subscription, error) {
	return m.hub.add(code, models.CollectionParticipants, func() {
		participants, _ := m.ListParticipants(ctx, code)
		fn(participants)
	}), nil
}

func (m *MemoryStore) SubscribeRoom(ctx context.Context, code string, fn func(*models.Room)) (Subscription, error) {
	return m.hub.add(code, topicRoom, func() {
		room, err := m.GetRoom(ctx, code)
		if err != nil {
			fn(nil)
			return
		}
		fn(room)
	}), nil
}

func (m *MemoryStore) Close() error {
	m.hub.closeAll()
	return nil
}
