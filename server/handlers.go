package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/themindlocksyndicate/tmls-companion/deck"
	"github.com/themindlocksyndicate/tmls-companion/draw"
	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/network"
	"github.com/themindlocksyndicate/tmls-companion/services"
	"github.com/themindlocksyndicate/tmls-companion/session"
	"github.com/themindlocksyndicate/tmls-companion/state"
)

var errNotInRoom = errors.New("join a room first")

// userErrors are shown to the participant verbatim; anything else is logged
// and replaced by a generic alert.
var userErrors = []error{
	services.ErrInvalidRoomCode,
	services.ErrRoomExists,
	services.ErrRoomNotFound,
	services.ErrNotHost,
	services.ErrDrawNotAllowed,
	services.ErrEmptyMessage,
	draw.ErrDeckEmpty,
	draw.ErrSessionEnding,
	deck.ErrDeckNotFound,
	errNotInRoom,
}

func describe(err error) string {
	for _, known := range userErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "Something went wrong, please try again"
}

func (s *Server) alert(sess *session.Session, err error) {
	msg := describe(err)
	if msg != err.Error() {
		logger.Log.Errorf("Session %s request failed: %v", sess.GetID(), err)
	}
	network.SendJSON(sess.Conn, network.MsgTypeAlert, network.Alert{Message: msg})
}

func (s *Server) handlePacket(sess *session.Session, packet *network.Packet) {
	start := time.Now()
	s.monitor.IncPacketsReceived()
	defer func() { s.monitor.ObservePacketLatency(time.Since(start)) }()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var err error
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.Touch()
		if sc := sess.Context(); sc.RoomCode != "" {
			s.rooms.Heartbeat(ctx, sc.RoomCode, sc.UID)
		}
	case network.MsgTypeCreateRoom, network.MsgTypeJoinRoom:
		var req network.JoinRequest
		if err = json.Unmarshal(packet.Data, &req); err == nil {
			s.enterRoom(ctx, sess, req, packet.MsgID == network.MsgTypeCreateRoom)
		}
	case network.MsgTypeLeaveRoom:
		s.leaveRoom(sess)
	case network.MsgTypeEndRoom:
		err = s.handleEndRoom(ctx, sess)
	case network.MsgTypeSubjectsCanDraw:
		err = s.withRoom(sess, func(sc models.SessionContext) error {
			var req network.FlagRequest
			if err := json.Unmarshal(packet.Data, &req); err != nil {
				return err
			}
			return s.rooms.SetSubjectsCanDraw(ctx, sc.RoomCode, sc.UID, req.Value)
		})
	case network.MsgTypeInitDeck:
		err = s.handleInitDeck(ctx, sess, packet.Data)
	case network.MsgTypeDraw:
		err = s.handleDraw(ctx, sess, packet.Data)
	case network.MsgTypeFlip:
		err = s.withRoom(sess, func(sc models.SessionContext) error {
			var req network.FlipRequest
			if err := json.Unmarshal(packet.Data, &req); err != nil {
				return err
			}
			code := state.NormalizeCode(req.Card)
			if code == "" {
				return nil
			}
			_, err := s.rooms.AppendEvent(ctx, sc, models.ActionFlip, map[string]any{"card": code})
			return err
		})
	case network.MsgTypeReset:
		err = s.withRoom(sess, func(sc models.SessionContext) error {
			_, err := s.rooms.AppendEvent(ctx, sc, models.ActionReset, nil)
			return err
		})
	case network.MsgTypeChat:
		err = s.withRoom(sess, func(sc models.SessionContext) error {
			var req network.ChatRequest
			if err := json.Unmarshal(packet.Data, &req); err != nil {
				return err
			}
			_, err := s.rooms.SendMessage(ctx, sc.RoomCode, sc.UID, req.Text)
			return err
		})
	case network.MsgTypeTyping:
		err = s.withRoom(sess, func(sc models.SessionContext) error {
			var req network.FlagRequest
			if err := json.Unmarshal(packet.Data, &req); err != nil {
				return err
			}
			s.rooms.SetTyping(ctx, sc.RoomCode, sc.UID, req.Value)
			return nil
		})
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}

	if err != nil {
		s.alert(sess, err)
	}
}

// withRoom runs fn with the session's room context.
func (s *Server) withRoom(sess *session.Session, fn func(sc models.SessionContext) error) error {
	sc := sess.Context()
	if sc.RoomCode == "" {
		return errNotInRoom
	}
	return fn(sc)
}

// enterRoom creates (host) or joins a room, attaches the session to the
// room's live session and starts its presence heartbeat.
func (s *Server) enterRoom(ctx context.Context, sess *session.Session, req network.JoinRequest, create bool) {
	uid := sess.Context().UID
	code, err := services.NormalizeRoomCode(req.RoomCode)
	if err != nil {
		s.alert(sess, err)
		return
	}

	if create {
		_, err := s.rooms.CreateRoom(ctx, code, uid, s.shuffledDeck(ctx, req.DeckID))
		if errors.Is(err, services.ErrRoomExists) {
			// The host may come back through its own create link.
			if isHost, hostErr := s.rooms.IsHost(ctx, code, uid); hostErr != nil || !isHost {
				s.alert(sess, err)
				return
			}
		} else if err != nil {
			s.alert(sess, err)
			return
		}
	}

	p, err := s.rooms.JoinRoom(ctx, code, uid, req.DisplayName)
	if err != nil {
		s.alert(sess, err)
		return
	}

	if current := sess.Context(); current.RoomCode != "" && current.RoomCode != code {
		s.leaveRoom(sess)
	}
	sc := models.SessionContext{
		UID:      uid,
		RoomCode: code,
		Host:     p.Role == models.RoleHypnotist,
		DeckID:   req.DeckID,
	}
	sess.SetContext(sc)

	rs, err := s.roomManager.Open(ctx, code)
	if err != nil {
		s.alert(sess, err)
		return
	}
	rs.SetPresenceStopper(func() { s.stopPresence(code) })
	if err := rs.EnsureInit(ctx, sc); err != nil {
		logger.Log.Warnf("Room %s: init event failed: %v", code, err)
	}

	s.startHeartbeat(sess)
	network.SendJSON(sess.Conn, network.MsgTypeRoomState, rs.View())
	logger.Log.Infof("Session %s joined room %s as %s", sess.GetID(), code, p.Role)
}

// shuffledDeck is the code list the transactional strategy draws from.
func (s *Server) shuffledDeck(ctx context.Context, deckID string) []string {
	if s.drawer == nil || s.drawer.Name() != draw.StrategyTransactional || s.decks == nil {
		return nil
	}
	if deckID == "" {
		deckID = s.decks.DefaultDeck()
	}
	d, err := s.decks.Load(ctx, deckID)
	if err != nil {
		logger.Log.Warnf("Deck %s unavailable for a new room: %v", deckID, err)
		return nil
	}
	codes := d.Codes()
	rand.Shuffle(len(codes), func(i, j int) { codes[i], codes[j] = codes[j], codes[i] })
	return codes
}

// leaveRoom detaches the session; the room session closes with its last connection.
func (s *Server) leaveRoom(sess *session.Session) {
	sc := sess.Context()
	if sc.RoomCode == "" {
		return
	}
	if id := sess.SetTimer(0); id != 0 {
		s.timers.RemoveTimer(id)
	}
	sess.SetContext(models.SessionContext{UID: sc.UID})

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	s.rooms.SetTyping(ctx, sc.RoomCode, sc.UID, false)

	if len(s.sessionManager.GetByRoom(sc.RoomCode)) == 0 {
		s.roomManager.RemoveRoom(sc.RoomCode)
	}
	logger.Log.Infof("Session %s left room %s", sess.GetID(), sc.RoomCode)
}

// startHeartbeat schedules the presence heartbeat of one session.
func (s *Server) startHeartbeat(sess *session.Session) {
	id := s.timers.AddTimer(0, s.heartbeat, func() {
		sc := sess.Context()
		if sc.RoomCode == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		s.rooms.Heartbeat(ctx, sc.RoomCode, sc.UID)
	})
	if prev := sess.SetTimer(id); prev != 0 {
		s.timers.RemoveTimer(prev)
	}
}

// stopPresence cancels the heartbeat of every connection in a room.
func (s *Server) stopPresence(code string) {
	for _, sess := range s.sessionManager.GetByRoom(code) {
		if id := sess.SetTimer(0); id != 0 {
			s.timers.RemoveTimer(id)
		}
	}
}

func (s *Server) handleEndRoom(ctx context.Context, sess *session.Session) error {
	return s.withRoom(sess, func(sc models.SessionContext) error {
		report, err := s.rooms.EndRoom(ctx, sc.RoomCode, sc.UID)
		if err != nil {
			return err
		}
		network.SendJSON(sess.Conn, network.MsgTypeAlert, network.Alert{Message: report.Summary()})
		return nil
	})
}

func (s *Server) handleInitDeck(ctx context.Context, sess *session.Session, data []byte) error {
	return s.withRoom(sess, func(sc models.SessionContext) error {
		if !sc.Host {
			return services.ErrNotHost
		}
		var req network.InitDeckRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}
		if req.DeckID == "" {
			req.DeckID = s.decks.DefaultDeck()
		}
		if _, err := s.decks.Load(ctx, req.DeckID); err != nil {
			return err
		}
		if _, err := s.rooms.AppendEvent(ctx, sc, models.ActionInit, map[string]any{"deckId": req.DeckID}); err != nil {
			return err
		}
		sc.DeckID = req.DeckID
		sess.SetContext(sc)
		return nil
	})
}

func (s *Server) handleDraw(ctx context.Context, sess *session.Session, data []byte) error {
	return s.withRoom(sess, func(sc models.SessionContext) error {
		req := network.DrawRequest{N: 1}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &req); err != nil {
				return err
			}
		}
		if req.N <= 0 {
			req.N = 1
		}
		err := s.rooms.CheckDraw(ctx, sc.RoomCode, sc.UID)
		if errors.Is(err, draw.ErrSessionEnding) && s.drawer.Name() == draw.StrategyTransactional {
			// The transaction re-reads the flag after its deck check.
			err = nil
		}
		if err != nil {
			return err
		}
		res, err := s.drawer.Draw(ctx, sc, req.N)
		if err != nil {
			return err
		}
		logger.Log.Debugf("Room %s: %s drew %v", sc.RoomCode, sc.UID, res.Codes())
		return nil
	})
}
