// room/room.go
package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/themindlocksyndicate/tmls-companion/broadcast"
	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/network"
	"github.com/themindlocksyndicate/tmls-companion/persistence"
	"github.com/themindlocksyndicate/tmls-companion/state"
)

// Bus topics published by a RoomSession.
const (
	TopicState        = "room.state"
	TopicMessages     = "room.messages"
	TopicParticipants = "room.participants"
	TopicDocument     = "room.document"
)

// View is the table as pushed to clients: placeholders resolved, revealed
// codes in draw order, and the deck records of every drawn card.
type View struct {
	DeckID    string        `json:"deck_id"`
	Drawn     []string      `json:"drawn"`
	Revealed  []string      `json:"revealed"`
	Cards     []models.Card `json:"cards"`
	Lifecycle string        `json:"lifecycle"`
}

// RoomSession 房间会话：订阅房间的四个数据流，折叠事件日志并推送给房间内的连接
type RoomSession struct {
	Code        string
	store       persistence.Store
	decks       DeckSource
	broadcaster Broadcaster
	bus         *broadcast.Bus
	lifecycle   *state.Lifecycle
	defaultDeck string

	subs     []persistence.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	initDone bool

	stateMutex   sync.RWMutex
	state        models.RoomState
	deck         *models.Deck
	view         View
	doc          *models.Room
	participants []models.Participant

	presenceMutex sync.Mutex
	presence      func()

	CreatedAt time.Time
	mutex     sync.Mutex
}

// NewRoomSession 创建房间会话，Start 之前不订阅任何数据
func NewRoomSession(code string, store persistence.Store, decks DeckSource, broadcaster Broadcaster, defaultDeck string) *RoomSession {
	r := &RoomSession{
		Code:        code,
		store:       store,
		decks:       decks,
		broadcaster: broadcaster,
		bus:         broadcast.NewBus(),
		defaultDeck: defaultDeck,
		state:       state.NewRoomState(),
		CreatedAt:   time.Now(),
	}
	r.lifecycle = state.NewLifecycle(r)
	r.view = View{DeckID: r.state.DeckID, Drawn: []string{}, Revealed: []string{}, Lifecycle: state.LifecycleLive}
	return r
}

// --- 实现 state.RoomContext 接口 ---

// GetID 返回房间码
func (r *RoomSession) GetID() string {
	return r.Code
}

// Publish forwards to the session bus.
func (r *RoomSession) Publish(topic string, payload any) {
	r.bus.Publish(topic, payload)
}

// StopPresence runs the registered presence stopper once.
func (r *RoomSession) StopPresence() {
	r.presenceMutex.Lock()
	stop := r.presence
	r.presence = nil
	r.presenceMutex.Unlock()
	if stop != nil {
		stop()
	}
}

// SetPresenceStopper registers what StopPresence should do, typically
// cancelling heartbeat timers of the room's connections.
func (r *RoomSession) SetPresenceStopper(fn func()) {
	r.presenceMutex.Lock()
	r.presence = fn
	r.presenceMutex.Unlock()
}

// --- 订阅 ---

// Start opens the four live listeners. ctx supplies values only; the
// listeners run until Close. On failure everything opened so far is closed.
func (r *RoomSession) Start(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return errors.New("room session closed")
	}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	open := []func() (persistence.Subscription, error){
		func() (persistence.Subscription, error) {
			return r.store.SubscribeRoom(r.ctx, r.Code, r.onRoom)
		},
		func() (persistence.Subscription, error) {
			return r.store.SubscribeEvents(r.ctx, r.Code, r.onEvents)
		},
		func() (persistence.Subscription, error) {
			return r.store.SubscribeMessages(r.ctx, r.Code, r.onMessages)
		},
		func() (persistence.Subscription, error) {
			return r.store.SubscribeParticipants(r.ctx, r.Code, r.onParticipants)
		},
	}
	for _, o := range open {
		sub, err := o()
		if err != nil {
			r.closeSubsLocked()
			return err
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

func (r *RoomSession) closeSubsLocked() {
	for _, s := range r.subs {
		s.Close()
	}
	r.subs = nil
	if r.cancel != nil {
		r.cancel()
	}
}

// Close tears down every listener and the bus. Safe to call twice.
func (r *RoomSession) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.closeSubsLocked()
	r.bus.Close()
}

// Closed reports whether Close has run.
func (r *RoomSession) Closed() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.closed
}

// Subscribe listens on the session bus; the handle dies with the session.
func (r *RoomSession) Subscribe(topic string, fn broadcast.Handler) func() {
	return r.bus.Subscribe(topic, fn)
}

func (r *RoomSession) push(msgID uint16, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorf("Room %s: encoding push %d: %v", r.Code, msgID, err)
		return
	}
	if err := r.broadcaster.BroadcastToRoom(r.Code, msgID, data); err != nil {
		logger.Log.Debugf("Room %s: push %d: %v", r.Code, msgID, err)
	}
}

func (r *RoomSession) loadDeck(deckID string) *models.Deck {
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := r.decks.Load(ctx, deckID)
	if err != nil {
		logger.Log.Warnf("Room %s: deck %s unavailable: %v", r.Code, deckID, err)
		return nil
	}
	return d
}

// onEvents re-reduces the whole log on every snapshot.
func (r *RoomSession) onEvents(events []models.Event) {
	st := state.Reduce(events)

	r.stateMutex.RLock()
	deck := r.deck
	r.stateMutex.RUnlock()
	if deck == nil || deck.ID != st.DeckID {
		if d := r.loadDeck(st.DeckID); d != nil {
			deck = d
		}
	}

	view := View{
		DeckID:    st.DeckID,
		Drawn:     state.ResolvePlaceholders(st, deck),
		Lifecycle: r.lifecycle.Current(),
	}
	view.Revealed = models.RoomState{Drawn: view.Drawn, Revealed: st.Revealed}.RevealedCodes()
	for _, code := range view.Drawn {
		card := models.Card{Code: code, Title: code}
		if deck != nil {
			if c, ok := deck.Card(code); ok {
				card = c
			}
		}
		view.Cards = append(view.Cards, card)
	}

	r.stateMutex.Lock()
	r.state = st
	r.deck = deck
	r.view = view
	r.stateMutex.Unlock()

	r.push(network.MsgTypeRoomState, view)
	r.bus.Publish(TopicState, view)
}

func (r *RoomSession) onMessages(messages []models.Message) {
	r.push(network.MsgTypeMessages, messages)
	r.bus.Publish(TopicMessages, messages)
}

func (r *RoomSession) onParticipants(participants []models.Participant) {
	r.stateMutex.Lock()
	r.participants = participants
	r.stateMutex.Unlock()

	r.push(network.MsgTypeParticipants, participants)
	r.bus.Publish(TopicParticipants, participants)
}

// onRoom drives the lifecycle from the session document.
func (r *RoomSession) onRoom(doc *models.Room) {
	r.stateMutex.Lock()
	r.doc = doc
	r.stateMutex.Unlock()

	if doc == nil {
		r.lifecycle.Observe(false, false)
		r.push(network.MsgTypeRoomEnded, network.Alert{Message: "Room ended by host"})
		return
	}
	r.lifecycle.Observe(true, doc.Ending)
	r.push(network.MsgTypeRoomDoc, doc)
	r.bus.Publish(TopicDocument, doc)
}

// EnsureInit appends the init event once when the host finds a log without
// one. deckID falls back to the server's default deck.
func (r *RoomSession) EnsureInit(ctx context.Context, sc models.SessionContext) error {
	if !sc.Host {
		return nil
	}
	r.mutex.Lock()
	if r.initDone {
		r.mutex.Unlock()
		return nil
	}
	r.initDone = true
	r.mutex.Unlock()

	events, err := r.store.ListEvents(ctx, r.Code)
	if err == nil && state.HasInit(events) {
		return nil
	}
	if err == nil {
		deckID := sc.DeckID
		if deckID == "" {
			deckID = r.defaultDeck
		}
		_, err = r.store.AppendEvent(ctx, r.Code, models.Event{
			Action:  models.ActionInit,
			Payload: map[string]any{"deckId": deckID},
			UID:     sc.UID,
		})
	}
	if err != nil {
		// Let the next host join retry.
		r.mutex.Lock()
		r.initDone = false
		r.mutex.Unlock()
	}
	return err
}

// --- 读取 ---

// View returns the latest pushed table view.
func (r *RoomSession) View() View {
	r.stateMutex.RLock()
	defer r.stateMutex.RUnlock()
	v := r.view
	v.Lifecycle = r.lifecycle.Current()
	return v
}

// State returns the latest reduced state.
func (r *RoomSession) State() models.RoomState {
	r.stateMutex.RLock()
	defer r.stateMutex.RUnlock()
	return r.state
}

// Document returns the latest room document, nil once deleted or before the first snapshot.
func (r *RoomSession) Document() *models.Room {
	r.stateMutex.RLock()
	defer r.stateMutex.RUnlock()
	return r.doc
}

// Participants returns the latest participant snapshot.
func (r *RoomSession) Participants() []models.Participant {
	r.stateMutex.RLock()
	defer r.stateMutex.RUnlock()
	return append([]models.Participant(nil), r.participants...)
}

// Lifecycle returns the current lifecycle state id.
func (r *RoomSession) Lifecycle() string {
	return r.lifecycle.Current()
}
