package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/field-ticket-service/internal/clients"
	"github.com/spec-kit/field-ticket-service/internal/events"
	"github.com/spec-kit/field-ticket-service/internal/observability"
)

// ObserverNotifier delivers state changes to the external observer.
type ObserverNotifier interface {
	NotifyStateChange(ctx context.Context, change clients.StateChange) error
}

// TaskQueue runs submitted tasks detached from the caller. Submit returns
// false when the task was not accepted.
type TaskQueue interface {
	Submit(task func(context.Context)) bool
}

// NotificationService forwards state-change events to the observer as
// detached best-effort tasks. Delivery failures surface only in logs and
// metrics.
type NotificationService struct {
	dispatcher events.Dispatcher
	observer   ObserverNotifier
	queue      TaskQueue
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewNotificationService creates the service. A nil observer disables delivery.
func NewNotificationService(dispatcher events.Dispatcher, observer ObserverNotifier, queue TaskQueue, logger *zap.Logger, metrics *observability.Metrics) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		observer:   observer,
		queue:      queue,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketStateChanged, n.handleTicketStateChanged)
}

func (n *NotificationService) handleTicketStateChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStateChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	if n.observer == nil {
		n.logger.Debug("observer not configured; state change not forwarded", zap.String("ticket_id", payload.TicketID))
		return nil
	}

	change := clients.StateChange{
		TicketID: payload.TicketID,
		NewState: payload.NewState,
		ClientID: payload.ClientID,
	}
	task := func(taskCtx context.Context) {
		n.deliver(taskCtx, change)
	}
	if n.queue == nil {
		task(context.WithoutCancel(ctx))
		return nil
	}
	if !n.queue.Submit(task) {
		n.metrics.RecordObserverDelivery("dropped")
		n.logger.Warn("observer queue full; state change dropped",
			zap.String("ticket_id", change.TicketID),
			zap.String("state", change.NewState))
	}
	return nil
}

func (n *NotificationService) deliver(ctx context.Context, change clients.StateChange) {
	if err := n.observer.NotifyStateChange(ctx, change); err != nil {
		n.metrics.RecordObserverDelivery("failed")
		n.logger.Warn("observer notification failed",
			zap.String("ticket_id", change.TicketID),
			zap.String("state", change.NewState),
			zap.Error(err))
		return
	}
	n.metrics.RecordObserverDelivery("delivered")
}
