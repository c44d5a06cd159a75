// persistence/postgresql.go
package persistence

import (
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/themindlocksyndicate/tmls-companion/logger"
)

// PostgresListener turns NOTIFY payloads of the form "<code>/<collection>"
// into watcher pokes. It runs on its own lib/pq connection.
type PostgresListener struct {
	listener *pq.Listener
	hub      *watchHub
	done     chan struct{}
}

// NewPostgresListener 监听 PostgreSQL 通知
func NewPostgresListener(dsn, channel string, hub *watchHub) (*PostgresListener, error) {
	report := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			logger.Log.Warnf("Notification listener %s: %v", channel, err)
		case pq.ListenerEventReconnected:
			logger.Log.Infof("Notification listener %s reconnected", channel)
		}
	}

	listener := pq.NewListener(dsn, 100*time.Millisecond, 10*time.Second, report)
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, err
	}

	l := &PostgresListener{listener: listener, hub: hub, done: make(chan struct{})}
	go l.loop()
	return l, nil
}

func (l *PostgresListener) loop() {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-l.done:
			return
		case n, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect; anything may have changed meanwhile.
			if n == nil {
				l.hub.pokeAll()
				continue
			}
			code, collection, found := strings.Cut(n.Extra, "/")
			if !found {
				logger.Log.Warnf("Ignoring malformed notification %q", n.Extra)
				continue
			}
			l.hub.poke(code, collection)
		case <-ping.C:
			if err := l.listener.Ping(); err != nil {
				logger.Log.Warnf("Notification listener ping failed: %v", err)
			}
		}
	}
}

func (l *PostgresListener) Close() {
	close(l.done)
	if err := l.listener.Close(); err != nil {
		logger.Log.Warnf("Closing notification listener: %v", err)
	}
}
