package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/field-ticket-service/internal/clients"
	"github.com/spec-kit/field-ticket-service/internal/events"
	"github.com/spec-kit/field-ticket-service/internal/observability"
)

type recordingObserver struct {
	changes []clients.StateChange
	err     error
}

func (o *recordingObserver) NotifyStateChange(_ context.Context, change clients.StateChange) error {
	o.changes = append(o.changes, change)
	return o.err
}

type fixedQueue struct {
	accept bool
	tasks  []func(context.Context)
}

func (q *fixedQueue) Submit(task func(context.Context)) bool {
	if !q.accept {
		return false
	}
	q.tasks = append(q.tasks, task)
	return true
}

func publishChange(t *testing.T, d events.Dispatcher, payload any) {
	t.Helper()
	require.NoError(t, d.Publish(context.Background(), events.Event{Type: events.EventTicketStateChanged, TicketID: "t1", Payload: payload}))
}

func TestNotificationServiceQueuesDelivery(t *testing.T) {
	d := events.NewInMemoryDispatcher(nil)
	observer := &recordingObserver{}
	queue := &fixedQueue{accept: true}
	NewNotificationService(d, observer, queue, nil, nil).RegisterHandlers()

	publishChange(t, d, events.TicketStateChangedPayload{TicketID: "t1", NewState: "closed", ClientID: "c-1"})
	require.Len(t, queue.tasks, 1)
	assert.Empty(t, observer.changes, "delivery runs on the queue, not the publisher")

	queue.tasks[0](context.Background())
	assert.Equal(t, []clients.StateChange{{TicketID: "t1", NewState: "closed", ClientID: "c-1"}}, observer.changes)
}

func TestNotificationServiceDropsWhenQueueFull(t *testing.T) {
	d := events.NewInMemoryDispatcher(nil)
	observer := &recordingObserver{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	NewNotificationService(d, observer, &fixedQueue{}, nil, metrics).RegisterHandlers()

	publishChange(t, d, events.TicketStateChangedPayload{TicketID: "t1", NewState: "closed"})
	assert.Empty(t, observer.changes)
}

func TestNotificationServiceWithoutObserver(t *testing.T) {
	d := events.NewInMemoryDispatcher(nil)
	queue := &fixedQueue{accept: true}
	NewNotificationService(d, nil, queue, nil, nil).RegisterHandlers()

	publishChange(t, d, events.TicketStateChangedPayload{TicketID: "t1"})
	assert.Empty(t, queue.tasks)
}

func TestNotificationServiceRejectsUnknownPayload(t *testing.T) {
	n := NewNotificationService(nil, &recordingObserver{}, nil, nil, nil)
	err := n.handleTicketStateChanged(context.Background(), events.Event{Type: events.EventTicketStateChanged, Payload: "oops"})
	assert.Error(t, err)
}
