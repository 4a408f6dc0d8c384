// Package pgnotify turns PostgreSQL NOTIFY payloads into published events,
// so the task store can announce changes from inside a transaction.
package pgnotify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskflow-realtime/domain"
	"taskflow-realtime/ingress"
)

const defaultRetryInterval = 5 * time.Second

type Option func(*Listener)

func WithRetryInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.retry = d
		}
	}
}

// notifier is a connection already LISTENing on the channel. *pgx.Conn
// satisfies it.
type notifier interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Listener holds one dedicated connection LISTENing on a channel. Each
// payload is an ingress envelope.
type Listener struct {
	pool      *pgxpool.Pool
	channel   string
	publisher domain.Publisher
	retry     time.Duration
	open      func(ctx context.Context) (notifier, error)
}

func New(pool *pgxpool.Pool, channel string, p domain.Publisher, opts ...Option) *Listener {
	l := &Listener{
		pool:      pool,
		channel:   channel,
		publisher: p,
		retry:     defaultRetryInterval,
	}
	l.open = l.dial
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connect opens a pool and verifies it can reach the database.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Run listens until ctx is cancelled, reconnecting after failures.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("notification listener failed", "channel", l.channel, "error", err, "retryIn", l.retry)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	slog.Info("listening for database events", "channel", l.channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		l.handle(n.Payload)
	}
}

// dial takes a connection out of the pool for good so the LISTEN
// registration never leaks back into it.
func (l *Listener) dial(ctx context.Context) (notifier, error) {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	conn := pooled.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", l.channel, err)
	}
	return conn, nil
}

// handle publishes one payload. Malformed payloads are logged and skipped.
func (l *Listener) handle(payload string) {
	event, scope, err := ingress.DecodeEnvelope([]byte(payload))
	if err != nil {
		slog.Warn("malformed notification payload", "channel", l.channel, "error", err)
		return
	}

	slog.Debug("database event", "type", event.Type, "scope", scope)
	l.publisher.Publish(event, scope)
}
