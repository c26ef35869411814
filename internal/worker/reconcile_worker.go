package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/field-ticket-service/internal/service"
)

// RunReconcileWorker scans for unjournaled tickets every interval until ctx is
// done. A zero interval returns immediately.
func RunReconcileWorker(ctx context.Context, reconciler *service.ReconcileService, interval time.Duration, logger *zap.Logger) {
	if reconciler == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("reconcile worker started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("reconcile worker stopped")
			return
		case <-ticker.C:
			found, err := reconciler.Scan(ctx, interval)
			if err != nil {
				logger.Error("reconcile scan failed", zap.Error(err))
				continue
			}
			if len(found) > 0 {
				logger.Warn("reconcile scan found unjournaled tickets", zap.Int("count", len(found)))
			}
		}
	}
}
