package broadcast

import (
	"testing"
)

func TestBus_PublishInOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe("t", func(p any) { got = append(got, "first:"+p.(string)) })
	bus.Subscribe("t", func(p any) { got = append(got, "second:"+p.(string)) })
	bus.Subscribe("other", func(p any) { got = append(got, "other") })

	bus.Publish("t", "x")

	if len(got) != 2 || got[0] != "first:x" || got[1] != "second:x" {
		t.Fatalf("Unexpected deliveries: %v", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsub := bus.Subscribe("t", func(any) { calls++ })

	bus.Publish("t", nil)
	unsub()
	unsub() // second call is harmless
	bus.Publish("t", nil)

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if bus.Subscribers("t") != 0 {
		t.Errorf("Expected no subscribers left, got %d", bus.Subscribers("t"))
	}
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe("t", func(any) { panic("boom") })
	bus.Subscribe("t", func(any) { delivered = true })

	bus.Publish("t", nil)

	if !delivered {
		t.Error("Second handler should still be called")
	}
}

func TestBus_CloseDropsSubscribers(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.Subscribe("t", func(any) { calls++ })

	bus.Close()
	bus.Publish("t", nil)
	bus.Subscribe("t", func(any) { calls++ })
	bus.Publish("t", nil)

	if calls != 0 {
		t.Errorf("Expected no deliveries after Close, got %d", calls)
	}
}
