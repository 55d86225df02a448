package replication

import (
	"context"

	"github.com/pkg/errors"

	"github.com/alpacahq/peersync/metrics"
	"github.com/alpacahq/peersync/models"
	"github.com/alpacahq/peersync/utils/log"
)

type applyFunc func(ctx context.Context, ev models.ChangeEvent) (Outcome, error)

// Receiver handles change messages sent by peers.
type Receiver struct {
	self     string
	dispatch map[models.Operation]applyFunc
}

func NewReceiver(self string, resolver *Resolver) *Receiver {
	return &Receiver{
		self: self,
		dispatch: map[models.Operation]applyFunc{
			models.OpInsert: resolver.Upsert,
			models.OpUpdate: resolver.Upsert,
			models.OpDelete: resolver.Delete,
		},
	}
}

// Handle decodes and applies one peer message. Failures are logged and counted;
// nothing is reported back to the sender.
func (r *Receiver) Handle(ctx context.Context, data []byte, binary bool) {
	metrics.ReceiverReceivedTotal.Inc()

	ev, err := DecodeWire(data, binary)
	if err != nil {
		metrics.ReceiverRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		log.Error("rejecting peer message: %v", err)
		return
	}

	_, _ = r.Apply(ctx, ev)
}

// Apply runs the loopback filter and dispatches ev by operation.
func (r *Receiver) Apply(ctx context.Context, ev models.ChangeEvent) (Outcome, error) {
	if ev.Origin() == r.self {
		metrics.ReceiverLoopbackTotal.Inc()
		log.Warn("discarding change originated by this instance id=%s version=%d, check the peer set",
			ev.ID(), ev.Version())
		return "", nil
	}

	apply, ok := r.dispatch[ev.Operation()]
	if !ok {
		metrics.ReceiverRejectedTotal.WithLabelValues("unknown_operation").Inc()
		err := errors.Wrapf(models.ErrUnknownOperation, "operation=%q", ev.Operation())
		log.Error("rejecting peer change id=%s: %v", ev.ID(), err)
		return "", err
	}

	outcome, err := apply(ctx, ev)
	if err != nil {
		metrics.ResolverErrorsTotal.WithLabelValues(ev.Operation().String()).Inc()
		log.Error("failed to apply peer change origin=%s: %v", ev.Origin(), err)
		return "", err
	}
	metrics.ResolverOutcomesTotal.WithLabelValues(ev.Operation().String(), string(outcome)).Inc()
	log.Debug("peer change %s id=%s version=%d origin=%s: %s",
		ev.Operation(), ev.ID(), ev.Version(), ev.Origin(), outcome)
	return outcome, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, models.ErrUnknownOperation):
		return "unknown_operation"
	default:
		return "malformed"
	}
}
