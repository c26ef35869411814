package statemachine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/field-ticket-service/internal/domain"
	"github.com/spec-kit/field-ticket-service/internal/observability"
	apperrors "github.com/spec-kit/field-ticket-service/pkg/util/errorutil"
)

// Loader reads a commerce's state machine from the configuration store. It
// returns pgx.ErrNoRows when no document exists.
type Loader interface {
	GetByCommerce(ctx context.Context, commerceID string) (*domain.StateMachine, error)
}

// SharedCache is a cache shared between service instances.
type SharedCache interface {
	Get(ctx context.Context, commerceID string) (*domain.StateMachine, bool, error)
	Set(ctx context.Context, machine *domain.StateMachine) error
	Delete(ctx context.Context, commerceID string) error
}

// Options tunes the in-process cache. Zero TTL keeps entries until evicted or
// invalidated; zero MaxEntries means unbounded.
type Options struct {
	TTL        time.Duration
	MaxEntries int
}

type cacheEntry struct {
	machine  *domain.StateMachine
	loadedAt time.Time
}

// Registry resolves state machines per commerce through a bounded TTL cache,
// an optional shared cache and finally the Loader.
type Registry struct {
	loader  Loader
	shared  SharedCache
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewRegistry builds a Registry. shared and metrics may be nil.
func NewRegistry(loader Loader, shared SharedCache, opts Options, logger *zap.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		loader:  loader,
		shared:  shared,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the state machine of commerceID or a NotFound DomainError.
func (r *Registry) Get(ctx context.Context, commerceID string) (*domain.StateMachine, error) {
	if machine, ok := r.cached(commerceID); ok {
		r.metrics.RecordStateMachineLookup("hit")
		return machine, nil
	}

	if r.shared != nil {
		machine, ok, err := r.shared.Get(ctx, commerceID)
		switch {
		case err != nil:
			r.logger.Warn("shared state machine cache read failed", zap.String("commerce_id", commerceID), zap.Error(err))
		case ok && machine.Validate() == nil:
			r.metrics.RecordStateMachineLookup("shared_hit")
			r.store(commerceID, machine)
			return machine, nil
		}
	}

	r.metrics.RecordStateMachineLookup("miss")
	machine, err := r.loader.GetByCommerce(ctx, commerceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("state machine", map[string]any{"commerceId": commerceID})
		}
		return nil, apperrors.NewInternalError(fmt.Errorf("load state machine %s: %w", commerceID, err))
	}
	if err := machine.Validate(); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if dangling := machine.DanglingTransitions(); len(dangling) > 0 {
		r.logger.Warn("state machine references undefined states",
			zap.String("commerce_id", commerceID),
			zap.Strings("transitions", dangling),
		)
		r.metrics.RecordDanglingTransitions(len(dangling))
	}

	if r.shared != nil {
		if err := r.shared.Set(ctx, machine); err != nil {
			r.logger.Warn("shared state machine cache write failed", zap.String("commerce_id", commerceID), zap.Error(err))
		}
	}
	r.store(commerceID, machine)
	return machine, nil
}

// Invalidate drops commerceID from every cache layer.
func (r *Registry) Invalidate(ctx context.Context, commerceID string) error {
	r.mu.Lock()
	delete(r.entries, commerceID)
	r.mu.Unlock()

	if r.shared != nil {
		if err := r.shared.Delete(ctx, commerceID); err != nil {
			return fmt.Errorf("invalidate shared state machine cache: %w", err)
		}
	}
	return nil
}

// Len returns the number of machines held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) cached(commerceID string) (*domain.StateMachine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[commerceID]
	if !ok {
		return nil, false
	}
	if r.opts.TTL > 0 && r.now().Sub(entry.loadedAt) >= r.opts.TTL {
		delete(r.entries, commerceID)
		return nil, false
	}
	return entry.machine, true
}

func (r *Registry) store(commerceID string, machine *domain.StateMachine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[commerceID]; !exists && r.opts.MaxEntries > 0 && len(r.entries) >= r.opts.MaxEntries {
		r.evictOldest()
	}
	r.entries[commerceID] = cacheEntry{machine: machine, loadedAt: r.now()}
}

// evictOldest must be called with mu held.
func (r *Registry) evictOldest() {
	var (
		oldestID string
		oldestAt time.Time
		found    bool
	)
	for id, entry := range r.entries {
		if !found || entry.loadedAt.Before(oldestAt) {
			oldestID, oldestAt, found = id, entry.loadedAt, true
		}
	}
	if found {
		delete(r.entries, oldestID)
	}
}
