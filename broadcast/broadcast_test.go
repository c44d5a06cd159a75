package broadcast

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/network"
	"github.com/themindlocksyndicate/tmls-companion/session"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	sent []uint16
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.sent = append(m.sent, msgID)
	return nil
}
func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func TestRoomBroadcaster_BroadcastToRoom(t *testing.T) {
	sessions := session.NewManager()
	inRoom := &MockConnection{}
	elsewhere := &MockConnection{}

	s1 := session.NewSession("s1", inRoom)
	s1.SetContext(models.SessionContext{UID: "a", RoomCode: "R1"})
	s2 := session.NewSession("s2", elsewhere)
	s2.SetContext(models.SessionContext{UID: "b", RoomCode: "R2"})
	sessions.Add(s1)
	sessions.Add(s2)

	b := NewRoomBroadcaster(sessions)
	if err := b.BroadcastToRoom("R1", network.MsgTypeRoomState, []byte("{}")); err != nil {
		t.Fatalf("BroadcastToRoom failed: %v", err)
	}

	if len(inRoom.sent) != 1 {
		t.Errorf("Expected 1 packet in R1, got %d", len(inRoom.sent))
	}
	if len(elsewhere.sent) != 0 {
		t.Errorf("Expected no packets outside R1, got %d", len(elsewhere.sent))
	}
}

func TestRoomBroadcaster_EmptyRoom(t *testing.T) {
	b := NewRoomBroadcaster(session.NewManager())
	if err := b.BroadcastToRoom("nope", network.MsgTypeRoomState, nil); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}
}
