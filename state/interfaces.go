// state/interfaces.go
package state

// RoomContext defines what a lifecycle state needs from the room session that owns it.
// This breaks the import cycle between room and state.
type RoomContext interface {
	GetID() string
	Publish(topic string, payload any)
	StopPresence()
}
