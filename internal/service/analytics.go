package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// ============================================================
// Honorários & evolução
// ============================================================

// AggregateFees sums values, recoveries and fees over claims.
// SuccessRate and FeeRealizationRate are percentages and are 0 when their
// denominator is 0.
func AggregateFees(claims []domain.Claim) domain.FeeSummary {
	var sum domain.FeeSummary
	for i := range claims {
		c := &claims[i]
		fees := c.Fees()
		sum.TotalMapped += c.Value
		sum.TotalRecovered += c.SettledTotal()
		sum.FeeTotal += fees.FeeTotal
		sum.FeeReceived += fees.FeeSettled
	}
	sum.OutstandingBalance = sum.TotalMapped - sum.TotalRecovered
	sum.FeePending = sum.FeeTotal - sum.FeeReceived
	if sum.TotalMapped > 0 {
		sum.SuccessRate = sum.TotalRecovered / sum.TotalMapped * 100
	}
	if sum.FeeTotal > 0 {
		sum.FeeRealizationRate = sum.FeeReceived / sum.FeeTotal * 100
	}
	sum.Count = len(claims)
	return sum
}

type bucketKey struct {
	year    int
	quarter int
}

// BucketByPeriod groups claims by year or by quarter and year, summing
// claim values (mapped) and settled totals (recovered). Buckets come out in
// chronological order.
func BucketByPeriod(claims []domain.Claim, g domain.Granularity) []domain.PeriodBucket {
	buckets := make(map[bucketKey]*domain.PeriodBucket)
	for i := range claims {
		c := &claims[i]
		key := bucketKey{year: c.Year}
		label := strconv.Itoa(c.Year)
		if g == domain.GranularityQuarter {
			key.quarter = c.Quarter.Index()
			label = c.PeriodLabel()
		}
		b, ok := buckets[key]
		if !ok {
			b = &domain.PeriodBucket{Label: label}
			buckets[key] = b
		}
		b.Mapped += c.Value
		b.Recovered += c.SettledTotal()
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].quarter < keys[j].quarter
	})

	out := make([]domain.PeriodBucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, *buckets[k])
	}
	return out
}

// DefaultGranularity is yearly for the whole portfolio and quarterly for a
// single client.
func DefaultGranularity(clientID string) domain.Granularity {
	if clientID != "" {
		return domain.GranularityQuarter
	}
	return domain.GranularityYear
}

// Dashboard computes the fee summary and the credit evolution series for
// the whole portfolio or one client. Results are cached until the next
// mutation.
func (s *PortfolioService) Dashboard(ctx context.Context, clientID, granularity string) (*domain.Dashboard, error) {
	ctx, span := tracer.Start(ctx, "PortfolioService.Dashboard")
	defer span.End()
	defer s.observe("Dashboard", time.Now())
	span.SetAttributes(attribute.String("cliente.id", clientID))

	g := DefaultGranularity(clientID)
	if granularity != "" {
		parsed, err := domain.ParseGranularity(granularity)
		if err != nil {
			return nil, err
		}
		g = parsed
	}

	cacheKey := clientID + "|" + string(g)
	if cached, ok := s.cache.Get(cacheKey); ok {
		s.metrics.IncrCacheHit(DashboardCache)
		return cached, nil
	}
	s.metrics.IncrCacheMiss(DashboardCache)
	gen := s.generation.Load()

	var claims []domain.Claim
	eg, gCtx := errgroup.WithContext(ctx)
	if clientID != "" {
		eg.Go(func() error {
			_, err := s.store.GetClient(gCtx, clientID)
			return s.storeFailed("GetClient", err)
		})
	}
	eg.Go(func() error {
		var err error
		claims, err = s.store.ListClaims(gCtx, clientID)
		return s.storeFailed("ListClaims", err)
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	d := &domain.Dashboard{
		ClientID:    clientID,
		Summary:     AggregateFees(claims),
		Granularity: g,
		Timeline:    BucketByPeriod(claims, g),
	}
	if s.generation.Load() == gen {
		s.cache.Set(cacheKey, d)
	}
	return d, nil
}

// Timeline returns only the evolution series of Dashboard.
func (s *PortfolioService) Timeline(ctx context.Context, clientID, granularity string) ([]domain.PeriodBucket, error) {
	d, err := s.Dashboard(ctx, clientID, granularity)
	if err != nil {
		return nil, err
	}
	return d.Timeline, nil
}
