// Package supabase provides a RecordStore backed by Supabase (PostgREST).
// Calls go through a bulkhead, a circuit breaker and retry with backoff.
package supabase

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/infra/resilience"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	bulkhead       *resilience.Bulkhead
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client. apiKey goes in the apikey header and
// serviceRoleKey in the bearer token; either may be reused for the other.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cfg resilience.Config, logger *zap.Logger) *Client {
	if apiKey == "" {
		apiKey = serviceRoleKey
	}
	if serviceRoleKey == "" {
		serviceRoleKey = apiKey
	}
	cfg.Retryable = isTransient
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             resilience.NewCircuitBreaker("supabase", isHealthyOutcome),
		bulkhead:       resilience.NewBulkhead(cfg.MaxConcurrency),
		cfg:            cfg,
		logger:         logger,
	}
}

// execute runs fn inside the bulkhead, the circuit breaker and the retry
// loop, in that order. Failures that are not domain outcomes are wrapped
// in domain.ErrStore.
func (c *Client) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "Supabase."+op)
	defer span.End()

	err := c.bulkhead.Do(ctx, func() error {
		_, err := c.cb.Execute(func() (any, error) {
			return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
				return fn(ctx)
			})
		})
		return err
	})
	if err == nil {
		return nil
	}

	var nf *domain.ErrNotFound
	var dup *domain.ErrDuplicate
	if errors.As(err, &nf) || errors.As(err, &dup) {
		span.SetAttributes(attribute.String("outcome", err.Error()))
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	return &domain.ErrStore{Op: "supabase." + op, Err: err}
}

// isTransient reports whether a failed call is worth retrying:
// transport errors and 5xx answers are, domain outcomes and 4xx are not.
func isTransient(err error) bool {
	var nf *domain.ErrNotFound
	var dup *domain.ErrDuplicate
	if errors.As(err, &nf) || errors.As(err, &dup) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// isHealthyOutcome keeps not-found and duplicate answers from tripping the
// breaker.
func isHealthyOutcome(err error) bool {
	if err == nil {
		return true
	}
	var nf *domain.ErrNotFound
	var dup *domain.ErrDuplicate
	return errors.As(err, &nf) || errors.As(err, &dup)
}
