package refunds

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/telemetry"
	"go.opentelemetry.io/otel/metric"
)

// Sweeper settles refunds the gateway accepted asynchronously and re-drives
// orders stuck in refund_pending.
type Sweeper struct {
	coord      *Coordinator
	staleAfter time.Duration
	interval   time.Duration
	log        *slog.Logger
	stale      metric.Int64Counter
}

func NewSweeper(c *Coordinator, staleAfter, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		coord:      c,
		staleAfter: staleAfter,
		interval:   interval,
		log:        log,
		stale:      telemetry.Counter("refunds_stale_total", "Orders found in refund_pending past the stale threshold"),
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Sweep makes one pass and returns how many stale orders it saw.
func (s *Sweeper) Sweep(ctx context.Context) int {
	submitted, err := s.coord.ledger.ListByStatus(ctx, StatusSubmitted)
	if err != nil {
		s.log.ErrorContext(ctx, "list submitted refunds", "err", err)
	}
	for _, rec := range submitted {
		if rec.RefundID == "" {
			continue
		}
		if _, err := s.coord.settle(ctx, rec, true); err != nil {
			s.log.WarnContext(ctx, "settle submitted refund", "request_id", rec.RequestID, "err", err)
		}
	}

	stale, err := s.coord.orders.StaleRefunds(ctx, s.staleAfter)
	if err != nil {
		s.log.ErrorContext(ctx, "list stale refunds", "err", err)
		return 0
	}
	for _, o := range stale {
		s.stale.Add(ctx, 1)
		s.log.WarnContext(ctx, "order stuck in refund_pending", "order_id", o.OrderID, "since", o.Timestamp)

		rec, err := s.coord.ledger.HolderOf(ctx, o.OrderID)
		if errors.Is(err, apperr.ErrNotFound) {
			s.log.ErrorContext(ctx, "refund_pending order has no refund request, needs an operator", "order_id", o.OrderID)
			continue
		}
		if err != nil {
			s.log.ErrorContext(ctx, "load refund request", "order_id", o.OrderID, "err", err)
			continue
		}
		if rec.Status == StatusSubmitted {
			// settled (or not) above
			continue
		}
		out, err := s.coord.InitiateRefund(ctx, rec.Request())
		if err != nil {
			s.log.WarnContext(ctx, "re-drive refund", "request_id", rec.RequestID, "order_id", o.OrderID, "err", err)
			continue
		}
		s.log.InfoContext(ctx, "refund re-driven", "request_id", rec.RequestID, "order_id", o.OrderID, "status", out.Status)
	}
	return len(stale)
}
