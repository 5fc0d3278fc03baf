// Package service provides the business logic layer (use cases).
// PortfolioService owns clients, reimbursement claims, their settlements
// and the fee analytics derived from them.
package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/infra/observability"
	"github.com/patrimonium/ressarcimentos/internal/port"
)

var tracer = otel.Tracer("service/portfolio")

// DashboardCache is the cache label used in metrics.
const DashboardCache = "dashboard"

// PortfolioService orchestrates every operation over the record store.
type PortfolioService struct {
	store   port.RecordStore
	cache   port.Cache[*domain.Dashboard]
	metrics *observability.Metrics
	logger  *zap.Logger

	backend string
	now     func() time.Time
	newID   func() string
	locks   *keyedMutex

	// generation bumps on every mutation so a dashboard computed
	// concurrently with a write is not cached.
	generation atomic.Uint64
}

// Option customizes a PortfolioService.
type Option func(*PortfolioService)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *PortfolioService) { s.now = now }
}

// WithIDGenerator replaces the UUID generator, for tests.
func WithIDGenerator(newID func() string) Option {
	return func(s *PortfolioService) { s.newID = newID }
}

// WithBackend names the store backend in store error metrics.
func WithBackend(name string) Option {
	return func(s *PortfolioService) { s.backend = name }
}

// NewPortfolioService creates the service with all dependencies injected.
func NewPortfolioService(
	store port.RecordStore,
	cache port.Cache[*domain.Dashboard],
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *PortfolioService {
	s := &PortfolioService{
		store:   store,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		backend: "unknown",
		now:     time.Now,
		newID:   uuid.NewString,
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PortfolioService) today() string {
	return s.now().Format(domain.DateLayout)
}

// storeFailed counts and logs store failures; other errors pass through.
func (s *PortfolioService) storeFailed(op string, err error) error {
	var se *domain.ErrStore
	if errors.As(err, &se) {
		s.metrics.IncrStoreError(s.backend)
		s.logger.Error("record store failure",
			zap.String("operation", op),
			zap.String("backend", s.backend),
			zap.Error(err),
		)
	}
	return err
}

// invalidate drops cached dashboards after any mutation.
func (s *PortfolioService) invalidate() {
	s.generation.Add(1)
	s.cache.Purge()
}

// keyedMutex serializes work per key, releasing idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
