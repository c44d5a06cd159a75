package persistence

import (
	"sync"
)

// watcher redelivers the latest snapshot of one collection to one listener.
// Pokes coalesce: a listener that falls behind only sees the newest state.
type watcher struct {
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func startWatcher(deliver func()) *watcher {
	w := &watcher{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-w.done:
				return
			case <-w.notify:
				select {
				case <-w.done:
					return
				default:
				}
				deliver()
			}
		}
	}()
	w.poke()
	return w
}

func (w *watcher) poke() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

// watchHub tracks watchers by room code and collection.
type watchHub struct {
	mutex    sync.Mutex
	watchers map[string]map[*watcher]struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{watchers: make(map[string]map[*watcher]struct{})}
}

func watchKey(code, collection string) string {
	return code + "/" + collection
}

func (h *watchHub) add(code, collection string, deliver func()) Subscription {
	key := watchKey(code, collection)
	w := startWatcher(deliver)

	h.mutex.Lock()
	if h.watchers[key] == nil {
		h.watchers[key] = make(map[*watcher]struct{})
	}
	h.watchers[key][w] = struct{}{}
	h.mutex.Unlock()

	return SubscriptionFunc(func() {
		w.stop()
		h.mutex.Lock()
		delete(h.watchers[key], w)
		if len(h.watchers[key]) == 0 {
			delete(h.watchers, key)
		}
		h.mutex.Unlock()
	})
}

func (h *watchHub) poke(code, collection string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for w := range h.watchers[watchKey(code, collection)] {
		w.poke()
	}
}

// pokeAll is used after a lost notification connection, when any collection may have changed.
func (h *watchHub) pokeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, set := range h.watchers {
		for w := range set {
			w.poke()
		}
	}
}

func (h *watchHub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for key, set := range h.watchers {
		for w := range set {
			w.stop()
		}
		delete(h.watchers, key)
	}
}
