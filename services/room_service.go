// services/room_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/themindlocksyndicate/tmls-companion/draw"
	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/monitor"
	"github.com/themindlocksyndicate/tmls-companion/persistence"
)

// 房间服务错误
var (
	ErrInvalidRoomCode = errors.New("room code is missing or invalid")
	ErrRoomExists      = errors.New("room already exists")
	ErrRoomNotFound    = errors.New("room not found")
	ErrNotHost         = errors.New("only the host can do that")
	ErrDrawNotAllowed  = errors.New("the host has not allowed subjects to draw")
	ErrEmptyMessage    = errors.New("message is empty")
)

// DefaultPurgePageSize bounds each fetch/delete round while terminating a room.
const DefaultPurgePageSize = 200

const (
	hostDisplayName  = "Host"
	guestDisplayName = "Guest"
	endedText        = "Room ended by host"
)

// purgeOrder is the order sub-collections are emptied in during termination.
var purgeOrder = []string{
	models.CollectionMessages,
	models.CollectionParticipants,
	models.CollectionEvents,
}

type RoomService struct {
	store    persistence.Store
	monitor  *monitor.Monitor
	pageSize int
	now      func() time.Time
}

func NewRoomService(store persistence.Store, mon *monitor.Monitor, pageSize int) *RoomService {
	if pageSize <= 0 {
		pageSize = DefaultPurgePageSize
	}
	return &RoomService{store: store, monitor: mon, pageSize: pageSize, now: time.Now}
}

// NormalizeRoomCode trims a user-supplied code and rejects ones that cannot
// name a document.
func NormalizeRoomCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" || len(code) > 64 || strings.ContainsAny(code, "/ \t\n") {
		return "", ErrInvalidRoomCode
	}
	return code, nil
}

func (s *RoomService) getRoom(ctx context.Context, code string) (*models.Room, error) {
	room, err := s.store.GetRoom(ctx, code)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	return room, err
}

// CreateRoom 创建房间，创建者成为主持人。deck is the shuffled code list
// used by the transactional draw strategy; it may be empty.
func (s *RoomService) CreateRoom(ctx context.Context, code, hostUID string, deck []string) (*models.Room, error) {
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	room := &models.Room{
		Code:           code,
		HypnotistUID:   hostUID,
		Deck:           deck,
		LastActivityAt: now,
	}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		if errors.Is(err, persistence.ErrAlreadyExists) {
			return nil, ErrRoomExists
		}
		return nil, fmt.Errorf("create room %s: %w", code, err)
	}

	if err := s.store.UpsertParticipant(ctx, code, models.Participant{
		UID:          hostUID,
		Role:         models.RoleHypnotist,
		DisplayName:  hostDisplayName,
		LastActiveAt: now,
	}); err != nil {
		return nil, fmt.Errorf("add host to %s: %w", code, err)
	}

	logger.Log.Infof("Room %s created by %s", code, hostUID)
	return room, nil
}

// JoinRoom adds or refreshes a participant. The role follows the room's host uid.
func (s *RoomService) JoinRoom(ctx context.Context, code, uid, displayName string) (models.Participant, error) {
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return models.Participant{}, err
	}
	room, err := s.getRoom(ctx, code)
	if err != nil {
		return models.Participant{}, err
	}

	p := models.Participant{
		UID:          uid,
		Role:         models.RoleSubject,
		DisplayName:  strings.TrimSpace(displayName),
		LastActiveAt: s.now().UTC(),
	}
	if uid == room.HypnotistUID {
		p.Role = models.RoleHypnotist
	}
	if p.DisplayName == "" {
		p.DisplayName = guestDisplayName
	}
	if err := s.store.UpsertParticipant(ctx, code, p); err != nil {
		return models.Participant{}, fmt.Errorf("join %s: %w", code, err)
	}
	return p, nil
}

// IsHost reports whether uid created the room.
func (s *RoomService) IsHost(ctx context.Context, code, uid string) (bool, error) {
	room, err := s.getRoom(ctx, code)
	if err != nil {
		return false, err
	}
	return room.HypnotistUID == uid, nil
}

// bestEffort logs a failed non-essential write and moves on.
func (s *RoomService) bestEffort(op, code string, err error) {
	if err == nil {
		return
	}
	s.monitor.IncBestEffortFailure(op)
	logger.Log.Warnf("Room %s: %s failed: %v", code, op, err)
}

// Heartbeat bumps the participant's presence timestamp.
func (s *RoomService) Heartbeat(ctx context.Context, code, uid string) {
	now := s.now().UTC()
	s.bestEffort("heartbeat", code, s.store.UpdateParticipant(ctx, code, uid, persistence.ParticipantUpdate{LastActiveAt: &now}))
}

func (s *RoomService) SetTyping(ctx context.Context, code, uid string, typing bool) {
	s.bestEffort("typing", code, s.store.UpdateParticipant(ctx, code, uid, persistence.ParticipantUpdate{IsTyping: &typing}))
}

// TouchActivity records that something happened in the room.
func (s *RoomService) TouchActivity(ctx context.Context, code string) {
	now := s.now().UTC()
	s.bestEffort("activity", code, s.store.UpdateRoom(ctx, code, persistence.RoomUpdate{LastActivityAt: &now}))
}

// SendMessage posts a text chat message.
func (s *RoomService) SendMessage(ctx context.Context, code, uid, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	msg, err := s.store.AppendMessage(ctx, code, models.Message{UID: uid, Type: models.MessageText, Text: text})
	if err != nil {
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}
	s.TouchActivity(ctx, code)
	return msg, nil
}

// SetSubjectsCanDraw lets the host open or close drawing to subjects.
func (s *RoomService) SetSubjectsCanDraw(ctx context.Context, code, uid string, allowed bool) error {
	isHost, err := s.IsHost(ctx, code, uid)
	if err != nil {
		return err
	}
	if !isHost {
		return ErrNotHost
	}
	return s.store.UpdateRoom(ctx, code, persistence.RoomUpdate{SubjectsCanDraw: &allowed})
}

// CheckDraw enforces who may draw: the host always, subjects only when allowed.
// Permission is checked before the ending flag.
func (s *RoomService) CheckDraw(ctx context.Context, code, uid string) error {
	room, err := s.getRoom(ctx, code)
	if err != nil {
		return err
	}
	if room.HypnotistUID != uid && !room.SubjectsCanDraw {
		return ErrDrawNotAllowed
	}
	if room.Ending {
		return draw.ErrSessionEnding
	}
	return nil
}

// AppendEvent writes a table action to the room's event log.
func (s *RoomService) AppendEvent(ctx context.Context, sc models.SessionContext, action models.Action, payload map[string]any) (models.Event, error) {
	evt, err := s.store.AppendEvent(ctx, sc.RoomCode, models.Event{Action: action, Payload: payload, UID: sc.UID})
	if err != nil {
		return models.Event{}, fmt.Errorf("append %s: %w", action, err)
	}
	s.monitor.IncEvent(string(action))
	s.TouchActivity(ctx, sc.RoomCode)
	return evt, nil
}
