package replication

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/peersync/metrics"
	"github.com/alpacahq/peersync/models"
	"github.com/alpacahq/peersync/utils/log"
)

const closeTimeout = 5 * time.Second

// NotificationConn is a dedicated database connection subscribed with LISTEN.
type NotificationConn interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Dialer opens a new NotificationConn.
type Dialer func(ctx context.Context) (NotificationConn, error)

// Fetcher reads the current state of a record, used to complete truncated notifications.
type Fetcher interface {
	Get(ctx context.Context, id string) (models.Record, error)
}

// Publisher receives decoded change events.
type Publisher interface {
	Publish(ev models.ChangeEvent)
}

type ListenerConfig struct {
	Channel          string
	RetryInterval    time.Duration
	RetryMaxInterval time.Duration
	BackoffCoeff     int
}

// Listener turns database notifications into change events.
type Listener struct {
	dial      Dialer
	fetcher   Fetcher
	publisher Publisher
	cfg       ListenerConfig
	connected atomic.Bool
	now       func() time.Time
}

func NewListener(dial Dialer, fetcher Fetcher, publisher Publisher, cfg ListenerConfig) *Listener {
	return &Listener{
		dial:      dial,
		fetcher:   fetcher,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Connected returns true while the notification connection is up.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// Run listens until ctx is canceled, reconnecting with backoff whenever the connection is lost.
// Changes committed while disconnected are not replayed.
func (l *Listener) Run(ctx context.Context) error {
	var lostAt time.Time
	for {
		conn, err := l.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		l.setConnected(true)
		if !lostAt.IsZero() {
			metrics.ListenerReconnectsTotal.Inc()
			log.Warn("notification listener reconnected after %s, changes committed meanwhile are not replayed",
				l.now().Sub(lostAt))
		} else {
			log.Info("listening for changes on channel %s", l.cfg.Channel)
		}

		err = l.consume(ctx, conn)
		l.setConnected(false)

		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if cerr := conn.Close(closeCtx); cerr != nil {
			log.Debug("closing notification connection: %v", cerr)
		}
		cancel()

		if ctx.Err() != nil {
			log.Info("shutdown notification listener...")
			return nil
		}
		log.Warn("notification connection lost: %v", err)
		lostAt = l.now()
	}
}

func (l *Listener) connect(ctx context.Context) (NotificationConn, error) {
	var conn NotificationConn
	r := NewRetryer(func(ctx context.Context) error {
		c, err := l.dial(ctx)
		if err != nil {
			return errors.Wrapf(ErrRetryable, "dial: %v", err)
		}
		if err := c.Listen(ctx, l.cfg.Channel); err != nil {
			_ = c.Close(ctx)
			return errors.Wrapf(ErrRetryable, "listen: %v", err)
		}
		conn = c
		return nil
	}, l.cfg.RetryInterval, l.cfg.RetryMaxInterval, l.cfg.BackoffCoeff)

	if err := r.Run(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func (l *Listener) consume(ctx context.Context, conn NotificationConn) error {
	for {
		payload, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		metrics.ListenerNotificationsTotal.Inc()
		l.handle(ctx, payload)
	}
}

func (l *Listener) handle(ctx context.Context, payload []byte) {
	ev, truncated, err := models.ParseNotification(payload, l.now())
	if err != nil {
		reason := "malformed"
		if errors.Is(err, models.ErrUnknownOperation) {
			reason = "unknown_operation"
		}
		metrics.ListenerDroppedTotal.WithLabelValues(reason).Inc()
		log.Error("dropping change notification: %v", err)
		return
	}

	if truncated && ev.Operation() != models.OpDelete {
		rec, err := l.fetcher.Get(ctx, ev.ID())
		if err != nil {
			metrics.ListenerDroppedTotal.WithLabelValues("refetch").Inc()
			log.Error("dropping truncated change id=%s version=%d: %v", ev.ID(), ev.Version(), err)
			return
		}
		if rec.Version != ev.Version() || rec.Origin != ev.Origin() {
			// a newer notification for this record follows
			metrics.ListenerDroppedTotal.WithLabelValues("superseded").Inc()
			log.Debug("dropping truncated change id=%s version=%d superseded by version=%d",
				ev.ID(), ev.Version(), rec.Version)
			return
		}
		ev = models.NewChangeEvent(ev.Operation(), rec, nil, ev.Origin(), ev.EmittedAt())
	}

	l.publisher.Publish(ev)
}

func (l *Listener) setConnected(up bool) {
	l.connected.Store(up)
	if up {
		metrics.ListenerConnected.Set(1)
	} else {
		metrics.ListenerConnected.Set(0)
	}
}
