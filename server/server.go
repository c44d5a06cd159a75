package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/themindlocksyndicate/tmls-companion/auth"
	"github.com/themindlocksyndicate/tmls-companion/deck"
	"github.com/themindlocksyndicate/tmls-companion/draw"
	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/monitor"
	"github.com/themindlocksyndicate/tmls-companion/network"
	"github.com/themindlocksyndicate/tmls-companion/room"
	"github.com/themindlocksyndicate/tmls-companion/services"
	"github.com/themindlocksyndicate/tmls-companion/session"
	"github.com/themindlocksyndicate/tmls-companion/timer"
)

const requestTimeout = 10 * time.Second

// Options carries the collaborators the server is wired with.
type Options struct {
	Addr              string
	Rooms             *services.RoomService
	RoomManager       *room.Manager
	SessionManager    *session.Manager
	Drawer            draw.Strategy
	Decks             *deck.Loader
	Identity          *auth.Identity
	Attestation       *auth.Attestation
	Timers            *timer.TimerManager
	Monitor           *monitor.Monitor
	HeartbeatInterval time.Duration
}

type Server struct {
	addr           string
	upgrader       websocket.Upgrader
	roomManager    *room.Manager
	sessionManager *session.Manager
	rooms          *services.RoomService
	drawer         draw.Strategy
	decks          *deck.Loader
	identity       *auth.Identity
	attestation    *auth.Attestation
	timers         *timer.TimerManager
	monitor        *monitor.Monitor
	heartbeat      time.Duration

	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewServer(opts Options) *Server {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.Attestation == nil {
		opts.Attestation = auth.NewAttestation("", "")
	}
	s := &Server{
		addr:           opts.Addr,
		roomManager:    opts.RoomManager,
		sessionManager: opts.SessionManager,
		rooms:          opts.Rooms,
		drawer:         opts.Drawer,
		decks:          opts.Decks,
		identity:       opts.Identity,
		attestation:    opts.Attestation,
		timers:         opts.Timers,
		monitor:        opts.Monitor,
		heartbeat:      opts.HeartbeatInterval,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	return s
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.attestation.Middleware(http.HandlerFunc(s.handleWebSocket)))
	mux.Handle("GET /api/decks", s.attestation.Middleware(http.HandlerFunc(s.handleDeckList)))
	mux.Handle("GET /api/decks/{id}", s.attestation.Middleware(http.HandlerFunc(s.handleDeck)))
	mux.Handle("GET /api/solo/draw", s.attestation.Middleware(http.HandlerFunc(s.handleSoloDraw)))
	if s.monitor != nil {
		mux.Handle("GET /metrics", s.monitor.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Log.Infof("Companion server listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes every open room session.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)
		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
		s.roomManager.CloseAll()
	})
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}

	query := r.URL.Query()
	s.handleConnection(network.NewWSConnection(conn), query.Get("token"), entry{
		room:   query.Get("room"),
		deckID: query.Get("deck"),
		host:   query.Get("host") == "1",
	})
}

// entry is the room a connection asked for in its URL.
type entry struct {
	room   string
	deckID string
	host   bool
}

// identify keeps the uid of a valid token. Without an identity secret every
// connection gets a throwaway uid and no token.
func (s *Server) identify(token string) (string, string) {
	if s.identity == nil {
		return uuid.New().String(), ""
	}
	uid, fresh, err := s.identity.Resume(token)
	if err != nil {
		if !errors.Is(err, auth.ErrNotConfigured) {
			logger.Log.Warnf("Identity token issue failed: %v", err)
		}
		return uuid.New().String(), ""
	}
	return uid, fresh
}

func (s *Server) handleConnection(conn network.Connection, token string, want entry) {
	sess := session.NewSession(uuid.New().String(), conn)
	uid, fresh := s.identify(token)
	sess.SetContext(models.SessionContext{UID: uid})
	s.sessionManager.Add(sess)
	s.monitor.IncParticipants()
	conn.SetHeartbeat(s.heartbeat)

	logger.Log.Infof("New connection from %s, session ID: %s, uid: %s", conn.RemoteAddr(), sess.GetID(), uid)

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", conn.RemoteAddr(), sess.GetID())
		s.leaveRoom(sess)
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecParticipants()
		conn.Close()
	}()

	network.SendJSON(conn, network.MsgTypeWelcome, network.Welcome{UID: uid, Token: fresh})

	if want.room != "" {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		s.enterRoom(ctx, sess, network.JoinRequest{RoomCode: want.room, DeckID: want.deckID}, want.host)
		cancel()
	}

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := conn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}
