package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
)

// listenConn is the part of *pgx.Conn the listener needs.
type listenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// connectListener is a seam for tests.
var connectListener = func(ctx context.Context, dsn string) (listenConn, error) {
	return pgx.Connect(ctx, dsn)
}

// listen relays NOTIFY payloads into the hub, reconnecting with backoff
// until ctx is cancelled.
func (s *Store) listen(ctx context.Context, dsn string) {
	defer close(s.listenDone)

	b := retry.WithCappedDuration(10*time.Second, retry.NewExponential(100*time.Millisecond))
	_ = retry.Do(ctx, b, func(ctx context.Context) error {
		err := s.listenOnce(ctx, dsn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn(ctx, "change listener interrupted", "error", err)
		return retry.RetryableError(err)
	})
}

func (s *Store) listenOnce(ctx context.Context, dsn string) error {
	conn, err := connectListener(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	s.logger.Debug(ctx, "listening for document changes")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n.Payload == "" {
			continue
		}
		s.hub.Publish(n.Payload)
	}
}
