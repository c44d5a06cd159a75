package rpc

import (
	"context"
	"net/rpc"
	"testing"

	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/persistence"
	"github.com/themindlocksyndicate/tmls-companion/services"
)

func startAdmin(t *testing.T) (*rpc.Client, *persistence.MemoryStore, *services.RoomService) {
	t.Helper()
	store := persistence.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	rooms := services.NewRoomService(store, nil, 0)

	srv, err := NewServer("127.0.0.1:0", NewRoomAdmin(store, rooms))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	go srv.Start()
	t.Cleanup(srv.Stop)

	client, err := rpc.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, store, rooms
}

func TestRoomAdmin_GetRoomState(t *testing.T) {
	client, store, rooms := startAdmin(t)
	ctx := context.Background()
	rooms.CreateRoom(ctx, "R1", "host", nil)
	store.AppendEvent(ctx, "R1", models.Event{Action: models.ActionInit, Payload: map[string]any{"deckId": "classic"}})
	store.AppendEvent(ctx, "R1", models.Event{Action: models.ActionDraw, Payload: map[string]any{"cards": []any{"a", "b"}}})
	store.AppendEvent(ctx, "R1", models.Event{Action: models.ActionFlip, Payload: map[string]any{"card": "b"}})

	var reply RoomStateReply
	if err := client.Call("RoomAdmin.GetRoomState", &RoomArgs{Code: "R1"}, &reply); err != nil {
		t.Fatalf("GetRoomState failed: %v", err)
	}
	if reply.DeckID != "classic" || len(reply.Drawn) != 2 || reply.Events != 3 {
		t.Errorf("Unexpected reply %+v", reply)
	}
	if len(reply.Revealed) != 1 || reply.Revealed[0] != "B" {
		t.Errorf("Expected B revealed, got %v", reply.Revealed)
	}

	if err := client.Call("RoomAdmin.GetRoomState", &RoomArgs{Code: "NOPE"}, &reply); err == nil {
		t.Error("Missing room should fail")
	}
}

func TestRoomAdmin_EndRoom(t *testing.T) {
	client, store, rooms := startAdmin(t)
	ctx := context.Background()
	rooms.CreateRoom(ctx, "R1", "host", nil)

	var reply EndRoomReply
	if err := client.Call("RoomAdmin.EndRoom", &EndRoomArgs{Code: "R1", UID: "guest"}, &reply); err == nil {
		t.Error("Non-host should not end the room")
	}
	if err := client.Call("RoomAdmin.EndRoom", &EndRoomArgs{Code: "R1", UID: "host"}, &reply); err != nil {
		t.Fatalf("EndRoom failed: %v", err)
	}
	if reply.Summary != "Room ended (cleanup completed)" {
		t.Errorf("Unexpected summary %q", reply.Summary)
	}
	if _, err := store.GetRoom(ctx, "R1"); err == nil {
		t.Error("Room should be deleted")
	}
}
