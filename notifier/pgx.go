package notifier

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxListener holds a dedicated pool connection on LISTEN. The connection
// stays checked out until Close so notifications are not lost between
// waits.
type PgxListener struct {
	conn *pgxpool.Conn
}

// NewPgxListener acquires a dedicated connection for listening.
func NewPgxListener(ctx context.Context, pool *pgxpool.Pool) (*PgxListener, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	return &PgxListener{conn: conn}, nil
}

// Listen subscribes the connection to a channel.
func (l *PgxListener) Listen(ctx context.Context, channel string) error {
	if _, err := l.conn.Exec(ctx, "LISTEN "+quoteIdentifier(channel)); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives or ctx ends.
func (l *PgxListener) WaitForNotification(ctx context.Context) (*Notification, error) {
	pgn, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return &Notification{Channel: pgn.Channel, Payload: pgn.Payload}, nil
}

// Close releases the connection back to the pool.
func (l *PgxListener) Close(ctx context.Context) error {
	l.conn.Release()
	return nil
}

// PgxSender sends notifications through the shared pool.
type PgxSender struct {
	pool *pgxpool.Pool
}

// NewPgxSender creates a sender on the given pool.
func NewPgxSender(pool *pgxpool.Pool) *PgxSender {
	return &PgxSender{pool: pool}
}

// Notify delivers a payload on a channel via pg_notify.
func (s *PgxSender) Notify(ctx context.Context, channel, payload string) error {
	if _, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("failed to notify %s: %w", channel, err)
	}
	return nil
}

// quoteIdentifier double-quotes a channel name for LISTEN, which does not
// take bind parameters.
func quoteIdentifier(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}

var (
	_ Listener = (*PgxListener)(nil)
	_ Sender   = (*PgxSender)(nil)
)
