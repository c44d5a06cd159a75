package network

// Client → server requests.
const (
	MsgTypeHeartbeat       = 1
	MsgTypeJoinRoom        = 101
	MsgTypeLeaveRoom       = 102
	MsgTypeCreateRoom      = 103
	MsgTypeEndRoom         = 104
	MsgTypeSubjectsCanDraw = 105
	MsgTypeInitDeck        = 201
	MsgTypeDraw            = 202
	MsgTypeFlip            = 203
	MsgTypeReset           = 204
	MsgTypeChat            = 205
	MsgTypeTyping          = 206
)

// Server → client pushes.
const (
	MsgTypeRoomState    = 301
	MsgTypeMessages     = 302
	MsgTypeParticipants = 303
	MsgTypeRoomDoc      = 304
	MsgTypeRoomEnded    = 305
	MsgTypeWelcome      = 306
	MsgTypeAlert        = 401
)

// JoinRequest is the body of MsgTypeCreateRoom and MsgTypeJoinRoom.
type JoinRequest struct {
	RoomCode    string `json:"room_code"`
	DisplayName string `json:"display_name,omitempty"`
	DeckID      string `json:"deck_id,omitempty"`
}

// DrawRequest is the body of MsgTypeDraw.
type DrawRequest struct {
	N int `json:"n"`
}

// FlipRequest is the body of MsgTypeFlip.
type FlipRequest struct {
	Card string `json:"card"`
}

// InitDeckRequest is the body of MsgTypeInitDeck.
type InitDeckRequest struct {
	DeckID string `json:"deck_id"`
}

// ChatRequest is the body of MsgTypeChat.
type ChatRequest struct {
	Text string `json:"text"`
}

// FlagRequest carries a boolean toggle (typing, subjects-can-draw).
type FlagRequest struct {
	Value bool `json:"value"`
}

// Alert is pushed for user-visible failures.
type Alert struct {
	Message string `json:"message"`
}

// Welcome tells a fresh connection who it is.
type Welcome struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}
