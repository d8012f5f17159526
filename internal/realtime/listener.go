package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ChangeChannel is the NOTIFY channel forge_notify_change() publishes on.
const ChangeChannel = "forge_changes"

// Dispatcher receives every parsed change notification. Implemented by
// *Hub in production; tests may supply any other implementation.
type Dispatcher interface {
	BroadcastChange(ctx context.Context, change Change)
}

// Listener holds one dedicated connection LISTENing on ChangeChannel and
// forwards parsed payloads to a Dispatcher. One Listener runs per node;
// every node sees every notification, since pg_notify fans out to every
// session listening on the channel, not just one.
type Listener struct {
	pool       *pgxpool.Pool
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewListener(pool *pgxpool.Pool, dispatcher Dispatcher, logger *slog.Logger) *Listener {
	return &Listener{pool: pool, dispatcher: dispatcher, logger: logger}
}

// Run acquires a dedicated connection and blocks, reconnecting on any
// connection-level error, until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := l.listenOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Warn("realtime: listener connection lost, reconnecting", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return err
	}
	l.logger.Info("realtime: listening", "channel", ChangeChannel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		change, err := ParseChange(notification.Payload)
		if err != nil {
			l.logger.Warn("realtime: dropping malformed notification", "payload", notification.Payload, "error", err)
			continue
		}
		l.dispatcher.BroadcastChange(ctx, change)
	}
}
