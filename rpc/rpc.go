package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/persistence"
	"github.com/themindlocksyndicate/tmls-companion/services"
	"github.com/themindlocksyndicate/tmls-companion/state"
)

// Server manages the admin RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer listens on addr and serves the given receivers.
func NewServer(addr string, receivers ...any) (*Server, error) {
	srv := rpc.NewServer()
	for _, r := range receivers {
		if err := srv.Register(r); err != nil {
			return nil, err
		}
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      srv,
	}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// RoomAdmin exposes room inspection and termination to operators.
type RoomAdmin struct {
	store   persistence.Store
	rooms   *services.RoomService
	timeout time.Duration
}

func NewRoomAdmin(store persistence.Store, rooms *services.RoomService) *RoomAdmin {
	return &RoomAdmin{store: store, rooms: rooms, timeout: 30 * time.Second}
}

type RoomArgs struct {
	Code string
}

type RoomStateReply struct {
	DeckID   string
	Drawn    []string
	Revealed []string
	Events   int
	Ending   bool
}

// GetRoomState replays the room's event log.
// It must follow the net/rpc signature: exported method, exported arguments,
// second argument is a pointer, return type is error.
func (a *RoomAdmin) GetRoomState(args *RoomArgs, reply *RoomStateReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	room, err := a.store.GetRoom(ctx, args.Code)
	if err != nil {
		return err
	}
	events, err := a.store.ListEvents(ctx, args.Code)
	if err != nil {
		return err
	}
	st := state.Reduce(events)
	reply.DeckID = st.DeckID
	reply.Drawn = st.Drawn
	reply.Revealed = st.RevealedCodes()
	reply.Events = len(events)
	reply.Ending = room.Ending
	return nil
}

type EndRoomArgs struct {
	Code string
	// UID must be the room's host.
	UID string
}

type EndRoomReply struct {
	Summary string
	Deleted map[string]int
}

// EndRoom terminates a room on behalf of its host.
func (a *RoomAdmin) EndRoom(args *EndRoomArgs, reply *EndRoomReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	report, err := a.rooms.EndRoom(ctx, args.Code, args.UID)
	if err != nil {
		return err
	}
	reply.Summary = report.Summary()
	reply.Deleted = make(map[string]int, len(report.Results))
	for _, res := range report.Results {
		reply.Deleted[res.Collection] = res.Deleted
	}
	return nil
}
