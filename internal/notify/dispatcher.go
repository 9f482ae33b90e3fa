package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pkordes/tripcrew/internal/domain"
)

// Outbox is the slice of repo.OutboxRepo the dispatcher needs.
type Outbox interface {
	ClaimPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// maxConcurrentSends bounds in-flight sink calls within one batch.
const maxConcurrentSends = 8

// Dispatcher drains the notification outbox into a Sink.
type Dispatcher struct {
	outbox   Outbox
	sink     Sink
	batch    int
	interval time.Duration
	log      *slog.Logger
	kick     chan struct{}
}

// NewDispatcher constructs a Dispatcher that claims up to batch messages at a
// time and polls every interval in addition to explicit kicks.
func NewDispatcher(outbox Outbox, sink Sink, batch int, interval time.Duration, log *slog.Logger) *Dispatcher {
	if batch <= 0 {
		batch = 50
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{
		outbox:   outbox,
		sink:     sink,
		batch:    batch,
		interval: interval,
		log:      log,
		kick:     make(chan struct{}, 1),
	}
}

// Kick asks Run to drain now. It never blocks; kicks that arrive while one
// is already queued are merged.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// DrainOnce claims one batch and sends it. It returns how many messages were
// sent successfully. Sink failures are logged and marked on the message;
// only a failure to claim is returned.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	msgs, err := d.outbox.ClaimPending(ctx, d.batch)
	if err != nil {
		return 0, err
	}
	return d.send(ctx, msgs), nil
}

// send delivers msgs concurrently and returns the number delivered.
func (d *Dispatcher) send(ctx context.Context, msgs []domain.OutboxMessage) int {
	if len(msgs) == 0 {
		return 0
	}

	sent := make([]bool, len(msgs))
	var g errgroup.Group
	g.SetLimit(maxConcurrentSends)
	for i, m := range msgs {
		g.Go(func() error {
			if err := d.sink.SendVerificationCode(ctx, m.Phone, m.Reason); err != nil {
				d.log.WarnContext(ctx, "notification send failed",
					slog.String("outbox_id", m.ID.String()),
					slog.String("error", err.Error()))
				if err := d.outbox.MarkFailed(ctx, m.ID, err.Error()); err != nil {
					d.log.ErrorContext(ctx, "mark notification failed",
						slog.String("outbox_id", m.ID.String()),
						slog.String("error", err.Error()))
				}
				return nil
			}
			sent[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range sent {
		if ok {
			n++
		}
	}
	return n
}

// Run drains the outbox on every tick and every kick until ctx is done.
// A full batch is followed immediately by another drain.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.InfoContext(ctx, "notification dispatcher started",
		slog.Int("batch", d.batch),
		slog.Duration("interval", d.interval))
	for {
		select {
		case <-ctx.Done():
			d.log.Info("notification dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.kick:
		}
		d.drain(ctx)
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		claimed, err := d.drainBatch(ctx)
		if err != nil {
			d.log.ErrorContext(ctx, "claim notifications", slog.String("error", err.Error()))
			return
		}
		if claimed < d.batch {
			return
		}
	}
}

// drainBatch is DrainOnce reporting the number claimed rather than sent.
func (d *Dispatcher) drainBatch(ctx context.Context) (int, error) {
	msgs, err := d.outbox.ClaimPending(ctx, d.batch)
	if err != nil {
		return 0, err
	}
	d.send(ctx, msgs)
	return len(msgs), nil
}
