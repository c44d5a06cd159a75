package state

import (
	"github.com/themindlocksyndicate/tmls-companion/logger"
)

// Lifecycle state ids.
const (
	LifecycleLive   = "live"
	LifecycleEnding = "ending"
	LifecycleClosed = "closed"
)

// Topics published by lifecycle states on the room bus.
const (
	TopicLifecycle = "room.lifecycle"
)

// LiveState 房间正常进行
type LiveState struct {
	RoomStateBase
}

// EndingState 房主已结束房间，正在清理
type EndingState struct {
	RoomStateBase
}

// ClosedState 房间根文档已删除
type ClosedState struct {
	RoomStateBase
}

func NewLiveState(room RoomContext) *LiveState {
	return &LiveState{RoomStateBase{ID: LifecycleLive, Room: room}}
}

func NewEndingState(room RoomContext) *EndingState {
	return &EndingState{RoomStateBase{ID: LifecycleEnding, Room: room}}
}

func NewClosedState(room RoomContext) *ClosedState {
	return &ClosedState{RoomStateBase{ID: LifecycleClosed, Room: room}}
}

func (s *EndingState) OnEnter() {
	logger.Log.Infof("Room %s is ending", s.Room.GetID())
	s.Room.StopPresence()
	s.Room.Publish(TopicLifecycle, LifecycleEnding)
}

func (s *ClosedState) OnEnter() {
	logger.Log.Infof("Room %s closed", s.Room.GetID())
	s.Room.StopPresence()
	s.Room.Publish(TopicLifecycle, LifecycleClosed)
}

// Lifecycle bundles the room lifecycle machine with its three states.
type Lifecycle struct {
	*BaseStateMachine
	Live   *LiveState
	Ending *EndingState
	Closed *ClosedState
}

// NewLifecycle starts a room in the live state. Allowed moves are
// live→ending, live→closed and ending→closed.
func NewLifecycle(room RoomContext) *Lifecycle {
	l := &Lifecycle{
		Live:   NewLiveState(room),
		Ending: NewEndingState(room),
		Closed: NewClosedState(room),
	}
	l.BaseStateMachine = NewBaseStateMachine(l.Live)
	_ = l.AddTransition(l.Live, l.Ending, nil)
	_ = l.AddTransition(l.Live, l.Closed, nil)
	_ = l.AddTransition(l.Ending, l.Closed, nil)
	return l
}

// Current returns the id of the active lifecycle state.
func (l *Lifecycle) Current() string {
	return l.GetCurrentState().GetID()
}

// Observe moves the machine to match a room document snapshot;
// exists is false once the document is gone.
func (l *Lifecycle) Observe(exists, ending bool) {
	switch {
	case !exists:
		_ = l.ChangeState(l.Closed)
	case ending:
		_ = l.ChangeState(l.Ending)
	}
}
