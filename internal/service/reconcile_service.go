package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/field-ticket-service/internal/domain"
	"github.com/spec-kit/field-ticket-service/internal/observability"
)

const reconcileLockKey = "lock:reconcile_unjournaled"

// UnjournaledLister lists tickets whose current state lacks a history entry.
type UnjournaledLister interface {
	ListUnjournaled(ctx context.Context, limit int) ([]domain.Ticket, error)
}

// Locker grants a cluster-wide lease. release must be called once the work is done.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// ReconcileService reports tickets left without an audit entry by a failed
// history write.
type ReconcileService struct {
	tickets UnjournaledLister
	locker  Locker
	batch   int
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewReconcileService creates the service. locker may be nil for single instance deployments.
func NewReconcileService(tickets UnjournaledLister, locker Locker, batch int, logger *zap.Logger, metrics *observability.Metrics) *ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batch <= 0 {
		batch = 100
	}
	return &ReconcileService{tickets: tickets, locker: locker, batch: batch, logger: logger, metrics: metrics}
}

// Scan returns the unjournaled tickets and logs each of them. When another
// instance holds the lease it returns nothing.
func (s *ReconcileService) Scan(ctx context.Context, lease time.Duration) ([]domain.Ticket, error) {
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, reconcileLockKey, lease)
		if err != nil {
			return nil, fmt.Errorf("acquire reconcile lock: %w", err)
		}
		if !ok {
			s.logger.Debug("reconcile scan skipped; lease held elsewhere")
			return nil, nil
		}
		defer release()
	}

	tickets, err := s.tickets.ListUnjournaled(ctx, s.batch)
	if err != nil {
		return nil, fmt.Errorf("list unjournaled tickets: %w", err)
	}
	for _, ticket := range tickets {
		s.logger.Warn("ticket state has no history entry",
			zap.String("ticket_id", ticket.ID),
			zap.String("commerce_id", ticket.CommerceID),
			zap.String("state", ticket.CurrentState.ID),
			zap.Time("updated_at", ticket.UpdatedAt))
	}
	s.metrics.RecordUnjournaled(len(tickets))
	return tickets, nil
}
