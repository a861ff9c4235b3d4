package data

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Notification channels emitted by the schema triggers
const (
	VoteEventsChannel  = "vote_events"
	AuditEventsChannel = "audit_events"
)

// ChangeEvent represents a single store change notification
type ChangeEvent struct {
	Channel    string
	Payload    string
	ReceivedAt time.Time
}

// Listener bridges Postgres LISTEN/NOTIFY into subscriber channels so
// consumers (tally aggregator, activity feed) observe ledger changes
// without owning the transport.
type Listener struct {
	connStr string
	logger  *zap.Logger

	mu     sync.RWMutex
	subs   map[string][]chan ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a change-feed listener for the given database
func NewListener(connStr string, logger *zap.Logger) *Listener {
	return &Listener{
		connStr: connStr,
		logger:  logger,
		subs:    make(map[string][]chan ChangeEvent),
	}
}

// Subscribe registers a subscriber for one notification channel. The
// returned channel is buffered; events are dropped, not blocked on, when
// a subscriber falls behind (the fallback poll covers missed events).
func (l *Listener) Subscribe(channel string) <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 64)

	l.mu.Lock()
	l.subs[channel] = append(l.subs[channel], ch)
	l.mu.Unlock()

	return ch
}

// Start opens a dedicated connection and begins dispatching notifications
func (l *Listener) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	conn, err := pgx.Connect(runCtx, l.connStr)
	if err != nil {
		cancel()
		return fmt.Errorf("connecting listener: %w", err)
	}

	for _, channel := range []string{VoteEventsChannel, AuditEventsChannel} {
		if _, err := conn.Exec(runCtx, "LISTEN "+channel); err != nil {
			conn.Close(runCtx)
			cancel()
			return fmt.Errorf("listening on %s: %w", channel, err)
		}
	}

	go l.run(runCtx, conn)

	l.logger.Info("Change-feed listener started")
	return nil
}

// Stop terminates the dispatch loop
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
}

func (l *Listener) run(ctx context.Context, conn *pgx.Conn) {
	defer close(l.done)
	defer conn.Close(context.Background())

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("Listener wait failed", zap.Error(err))
			return
		}

		event := ChangeEvent{
			Channel:    notification.Channel,
			Payload:    notification.Payload,
			ReceivedAt: time.Now().UTC(),
		}

		l.mu.RLock()
		for _, ch := range l.subs[notification.Channel] {
			select {
			case ch <- event:
			default:
				// Subscriber is behind; the periodic poll will catch it up
			}
		}
		l.mu.RUnlock()
	}
}
