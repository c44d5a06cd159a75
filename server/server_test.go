package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/themindlocksyndicate/tmls-companion/auth"
	"github.com/themindlocksyndicate/tmls-companion/broadcast"
	"github.com/themindlocksyndicate/tmls-companion/deck"
	"github.com/themindlocksyndicate/tmls-companion/draw"
	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/monitor"
	"github.com/themindlocksyndicate/tmls-companion/network"
	"github.com/themindlocksyndicate/tmls-companion/persistence"
	"github.com/themindlocksyndicate/tmls-companion/room"
	"github.com/themindlocksyndicate/tmls-companion/services"
	"github.com/themindlocksyndicate/tmls-companion/session"
	"github.com/themindlocksyndicate/tmls-companion/timer"
)

const cardsDataset = `[
	{"id": "a", "card": "Anchor", "category": "Focus"},
	{"id": "b", "card": "Breath", "category": "Focus"},
	{"id": "c", "card": "Count", "category": "Deepener"}
]`

// MockConnection feeds queued packets to the server and records what it sends.
type MockConnection struct {
	mutex     sync.Mutex
	sent      map[uint16][][]byte
	incoming  chan *network.Packet
	closed    chan struct{}
	closeOnce sync.Once
}

func NewMockConnection() *MockConnection {
	return &MockConnection{
		sent:     make(map[uint16][][]byte),
		incoming: make(chan *network.Packet, 16),
		closed:   make(chan struct{}),
	}
}

func (c *MockConnection) Send(msgID uint16, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sent[msgID] = append(c.sent[msgID], append([]byte(nil), data...))
	return nil
}

func (c *MockConnection) ReadPacket() (*network.Packet, error) {
	select {
	case p := <-c.incoming:
		return p, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *MockConnection) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *MockConnection) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

func (c *MockConnection) SetHeartbeat(interval time.Duration) {}

func (c *MockConnection) push(msgID uint16, v any) {
	data, _ := json.Marshal(v)
	c.incoming <- &network.Packet{MsgID: msgID, Data: data, Length: uint16(len(data))}
}

func (c *MockConnection) count(msgID uint16) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.sent[msgID])
}

func (c *MockConnection) alerts() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var out []string
	for _, data := range c.sent[network.MsgTypeAlert] {
		var a network.Alert
		json.Unmarshal(data, &a)
		out = append(out, a.Message)
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func newTestServer(t *testing.T) (*Server, *persistence.MemoryStore) {
	t.Helper()
	dataset := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/datasets/cards.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(cardsDataset))
	}))
	t.Cleanup(dataset.Close)

	loader := deck.NewLoader(dataset.URL, "cards", dataset.Client())
	store := persistence.NewMemoryStore()
	mon := monitor.NewMonitor("tmls_test")
	sessions := session.NewManager()
	rooms := room.NewRoomManager(store, loader, broadcast.NewRoomBroadcaster(sessions), mon, loader.DefaultDeck())
	timers := timer.NewTimerManagerWithResolution(10 * time.Millisecond)

	s := NewServer(Options{
		Rooms:             services.NewRoomService(store, mon, 0),
		RoomManager:       rooms,
		SessionManager:    sessions,
		Drawer:            draw.NewEventLogDraw(store, loader, mon),
		Decks:             loader,
		Timers:            timers,
		Monitor:           mon,
		HeartbeatInterval: time.Second,
	})
	t.Cleanup(func() {
		rooms.CloseAll()
		timers.Stop()
		store.Close()
	})
	return s, store
}

func connect(s *Server, want entry) (*MockConnection, chan struct{}) {
	return connectAs(s, "", want)
}

func connectAs(s *Server, token string, want entry) (*MockConnection, chan struct{}) {
	conn := NewMockConnection()
	done := make(chan struct{})
	go func() {
		s.handleConnection(conn, token, want)
		close(done)
	}()
	return conn, done
}

// tokenFor enables identities on s and signs a token for uid.
func tokenFor(t *testing.T, s *Server, uid string) string {
	t.Helper()
	if s.identity == nil {
		s.identity = auth.NewIdentity("test-secret", time.Hour)
	}
	token, err := s.identity.Issue(uid)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return token
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from healthz, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "tmls_test_active_rooms") {
		t.Error("Metrics should expose active rooms")
	}
}

func TestServer_DeckAPI(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/decks", nil))
	var list struct {
		Default string                  `json:"default"`
		Decks   []models.DeckIndexEntry `json:"decks"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Default != "cards" || len(list.Decks) != 1 || list.Decks[0].Key != "cards" {
		t.Errorf("Expected the default deck fallback, got %+v", list)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/decks/cards", nil))
	var d struct {
		Cards      []models.Card `json:"cards"`
		Categories []string      `json:"categories"`
	}
	json.Unmarshal(rec.Body.Bytes(), &d)
	if len(d.Cards) != 3 || len(d.Categories) != 2 {
		t.Errorf("Unexpected deck body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/decks/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Missing deck should give 404, got %d", rec.Code)
	}
}

func TestServer_SoloDrawIsSeeded(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	drawOnce := func(query string) map[string]any {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/solo/draw?"+query, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Solo draw failed with %d: %s", rec.Code, rec.Body.String())
		}
		var body map[string]any
		json.Unmarshal(rec.Body.Bytes(), &body)
		return body
	}

	a := drawOnce("seed=abc")
	b := drawOnce("seed=abc")
	if a["key"] != b["key"] {
		t.Errorf("Same seed should draw the same card, got %v and %v", a["key"], b["key"])
	}
	if !strings.HasPrefix(a["markdown"].(string), "# ") {
		t.Errorf("Solo draw should render markdown, got %v", a["markdown"])
	}

	c := drawOnce("seed=abc&category=Deepener")
	if card := c["card"].(map[string]any); card["code"] != "C" {
		t.Errorf("Category filter should leave only C, got %v", card["code"])
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/solo/draw?category=None", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Empty category should give 404, got %d", rec.Code)
	}
}

func TestServer_RoomFlow(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	host, hostDone := connect(s, entry{room: "R1", host: true})
	eventually(t, "host welcome and state", func() bool {
		return host.count(network.MsgTypeWelcome) == 1 && host.count(network.MsgTypeRoomState) > 0
	})

	host.push(network.MsgTypeDraw, network.DrawRequest{N: 2})
	eventually(t, "host draw", func() bool {
		events, _ := store.ListEvents(ctx, "R1")
		return len(events) == 2 && events[0].Action == models.ActionInit && events[1].Action == models.ActionDraw
	})

	guest, guestDone := connect(s, entry{room: "R1"})
	eventually(t, "guest join", func() bool { return guest.count(network.MsgTypeRoomState) > 0 })

	guest.push(network.MsgTypeDraw, network.DrawRequest{N: 1})
	eventually(t, "draw refused", func() bool {
		alerts := guest.alerts()
		return len(alerts) == 1 && alerts[0] == services.ErrDrawNotAllowed.Error()
	})

	host.push(network.MsgTypeSubjectsCanDraw, network.FlagRequest{Value: true})
	eventually(t, "subjects allowed", func() bool {
		doc, _ := store.GetRoom(ctx, "R1")
		return doc != nil && doc.SubjectsCanDraw
	})
	guest.push(network.MsgTypeDraw, network.DrawRequest{N: 1})
	guest.push(network.MsgTypeFlip, network.FlipRequest{Card: "a"})
	guest.push(network.MsgTypeChat, network.ChatRequest{Text: "hello"})
	eventually(t, "guest draw, flip and chat", func() bool {
		events, _ := store.ListEvents(ctx, "R1")
		msgs, _ := store.ListMessages(ctx, "R1")
		return len(events) == 4 && len(msgs) == 3
	})

	guest.push(network.MsgTypeReset, nil)
	eventually(t, "reset by a subject", func() bool {
		events, _ := store.ListEvents(ctx, "R1")
		return len(events) == 5 && events[4].Action == models.ActionReset
	})
	if alerts := guest.alerts(); len(alerts) != 1 {
		t.Errorf("Reset should not alert, got %v", alerts)
	}

	host.push(network.MsgTypeEndRoom, nil)
	eventually(t, "room deleted", func() bool {
		_, err := store.GetRoom(ctx, "R1")
		return err != nil
	})
	eventually(t, "end report and push", func() bool {
		alerts := host.alerts()
		return len(alerts) == 1 && alerts[0] == "Room ended (cleanup completed)" &&
			guest.count(network.MsgTypeRoomEnded) > 0
	})

	host.Close()
	guest.Close()
	<-hostDone
	<-guestDone
	if s.sessionManager.Count() != 0 {
		t.Errorf("Expected no sessions left, got %d", s.sessionManager.Count())
	}
	eventually(t, "room session closed", func() bool { return s.roomManager.Count() == 0 })
}

func TestServer_PacketsOutsideRoomAlert(t *testing.T) {
	s, _ := newTestServer(t)
	conn, done := connect(s, entry{})

	conn.push(network.MsgTypeChat, network.ChatRequest{Text: "hi"})
	conn.push(network.MsgTypeJoinRoom, network.JoinRequest{RoomCode: "no/such"})
	conn.push(network.MsgTypeJoinRoom, network.JoinRequest{RoomCode: "GHOST"})
	eventually(t, "three alerts", func() bool { return len(conn.alerts()) == 3 })

	alerts := conn.alerts()
	if alerts[0] != errNotInRoom.Error() || alerts[1] != services.ErrInvalidRoomCode.Error() || alerts[2] != services.ErrRoomNotFound.Error() {
		t.Errorf("Unexpected alerts %v", alerts)
	}
	conn.Close()
	<-done
}

func TestServer_CreateExistingRoom(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	hostToken := tokenFor(t, s, "u-host")
	otherToken := tokenFor(t, s, "u-other")
	if _, err := s.rooms.CreateRoom(ctx, "R1", "u-host", nil); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	other, otherDone := connectAs(s, otherToken, entry{room: "R1", host: true})
	eventually(t, "duplicate room alert", func() bool {
		alerts := other.alerts()
		return len(alerts) == 1 && alerts[0] == services.ErrRoomExists.Error()
	})
	if other.count(network.MsgTypeRoomState) != 0 {
		t.Error("A refused create should not join the room")
	}
	participants, _ := store.ListParticipants(ctx, "R1")
	if len(participants) != 1 {
		t.Errorf("Only the host should be a participant, got %+v", participants)
	}

	host, hostDone := connectAs(s, hostToken, entry{room: "R1", host: true})
	eventually(t, "host rejoin", func() bool { return host.count(network.MsgTypeRoomState) > 0 })
	if alerts := host.alerts(); len(alerts) != 0 {
		t.Errorf("The host's own create link should join silently, got %v", alerts)
	}

	other.Close()
	host.Close()
	<-otherDone
	<-hostDone
}

func TestServer_TransactionalDrawReportsEmptyDeckFirst(t *testing.T) {
	s, store := newTestServer(t)
	s.drawer = draw.NewTransactionalIndexDraw(store, s.decks, nil)
	ctx := context.Background()
	token := tokenFor(t, s, "u-host")

	ending := true
	for code, index := range map[string]int{"EMPTY": 1, "LIVE": 0} {
		s.rooms.CreateRoom(ctx, code, "u-host", []string{"A"})
		store.RunRoomTransaction(ctx, code, func(room *models.Room) error {
			room.DeckIndex = index
			return nil
		})
		store.UpdateRoom(ctx, code, persistence.RoomUpdate{Ending: &ending})
	}

	empty, emptyDone := connectAs(s, token, entry{room: "EMPTY"})
	eventually(t, "join", func() bool { return empty.count(network.MsgTypeRoomState) > 0 })
	empty.push(network.MsgTypeDraw, network.DrawRequest{N: 1})
	eventually(t, "deck empty alert", func() bool {
		alerts := empty.alerts()
		return len(alerts) == 1 && alerts[0] == draw.ErrDeckEmpty.Error()
	})

	live, liveDone := connectAs(s, token, entry{room: "LIVE"})
	eventually(t, "join", func() bool { return live.count(network.MsgTypeRoomState) > 0 })
	live.push(network.MsgTypeDraw, network.DrawRequest{N: 1})
	eventually(t, "ending alert", func() bool {
		alerts := live.alerts()
		return len(alerts) == 1 && alerts[0] == draw.ErrSessionEnding.Error()
	})

	empty.Close()
	live.Close()
	<-emptyDone
	<-liveDone
}
