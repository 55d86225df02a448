package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ListenConn is a dedicated connection for LISTEN/NOTIFY.
// It blocks while waiting, so it must never be shared with query traffic.
type ListenConn struct {
	conn *pgx.Conn
}

func DialListener(ctx context.Context, url string) (*ListenConn, error) {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "connect notification listener")
	}
	return &ListenConn{conn: conn}, nil
}

func (c *ListenConn) Listen(ctx context.Context, channel string) error {
	_, err := c.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return errors.Wrapf(err, "listen %s", channel)
}

// WaitForNotification blocks until a notification arrives and returns its payload.
func (c *ListenConn) WaitForNotification(ctx context.Context) ([]byte, error) {
	n, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(n.Payload), nil
}

func (c *ListenConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
