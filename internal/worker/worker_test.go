package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/field-ticket-service/internal/domain"
	"github.com/spec-kit/field-ticket-service/internal/service"
)

func TestNotificationPoolRunsTasks(t *testing.T) {
	pool := NewNotificationPool(2, 8, time.Second, nil)
	pool.Start(context.Background())

	var ran int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.True(t, pool.Submit(func(ctx context.Context) {
			defer wg.Done()
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			atomic.AddInt32(&ran, 1)
		}))
	}
	wg.Wait()
	pool.Stop()
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
}

func TestNotificationPoolDropsWhenFull(t *testing.T) {
	pool := NewNotificationPool(1, 1, 0, nil)

	// Not started: the single slot fills and the next submit is refused.
	assert.True(t, pool.Submit(func(context.Context) {}))
	assert.False(t, pool.Submit(func(context.Context) {}))

	pool.Start(context.Background())
	pool.Stop()
	assert.False(t, pool.Submit(func(context.Context) {}), "stopped pool refuses tasks")
}

func TestNotificationPoolSurvivesPanics(t *testing.T) {
	pool := NewNotificationPool(1, 4, 0, nil)
	pool.Start(context.Background())

	done := make(chan struct{})
	require.True(t, pool.Submit(func(context.Context) { panic("boom") }))
	require.True(t, pool.Submit(func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover from panic")
	}
	pool.Stop()
}

func TestNotificationPoolDetachesFromCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewNotificationPool(1, 1, 0, nil)
	pool.Start(ctx)
	cancel()

	errCh := make(chan error, 1)
	require.True(t, pool.Submit(func(taskCtx context.Context) { errCh <- taskCtx.Err() }))
	assert.NoError(t, <-errCh)
	pool.Stop()
}

type stubLister struct {
	calls int32
}

func (s *stubLister) ListUnjournaled(context.Context, int) ([]domain.Ticket, error) {
	atomic.AddInt32(&s.calls, 1)
	return []domain.Ticket{{ID: "t-1"}}, nil
}

func TestRunReconcileWorker(t *testing.T) {
	lister := &stubLister{}
	reconciler := service.NewReconcileService(lister, nil, 10, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunReconcileWorker(ctx, reconciler, 10*time.Millisecond, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&lister.calls) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRunReconcileWorkerDisabled(t *testing.T) {
	lister := &stubLister{}
	RunReconcileWorker(context.Background(), service.NewReconcileService(lister, nil, 10, nil, nil), 0, nil)
	assert.Equal(t, int32(0), atomic.LoadInt32(&lister.calls))
}
