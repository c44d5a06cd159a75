package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerManager_OneShot(t *testing.T) {
	m := NewTimerManagerWithResolution(5 * time.Millisecond)
	defer m.Stop()

	fired := make(chan struct{}, 1)
	m.AddTimer(10*time.Millisecond, 0, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("One-shot timer did not fire")
	}
	time.Sleep(20 * time.Millisecond)
	if m.Len() != 0 {
		t.Errorf("Fired one-shot timer should be forgotten, %d left", m.Len())
	}
}

func TestTimerManager_Repeats(t *testing.T) {
	m := NewTimerManagerWithResolution(5 * time.Millisecond)
	defer m.Stop()

	var count int32
	id := m.AddTimer(0, 10*time.Millisecond, func() { atomic.AddInt32(&count, 1) })

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&count) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&count) < 3 {
		t.Fatalf("Repeating timer fired %d times, want at least 3", count)
	}

	m.RemoveTimer(id)
	if m.Len() != 0 {
		t.Errorf("Removed timer should be gone, %d left", m.Len())
	}
}

func TestTimerManager_RemoveBeforeFire(t *testing.T) {
	m := NewTimerManagerWithResolution(5 * time.Millisecond)
	defer m.Stop()

	var fired int32
	id := m.AddTimer(30*time.Millisecond, 0, func() { atomic.StoreInt32(&fired, 1) })
	m.RemoveTimer(id)
	m.RemoveTimer(id)

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("Removed timer should not fire")
	}
}
