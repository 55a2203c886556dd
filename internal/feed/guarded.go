package feed

import (
	"context"
	"errors"
	"fmt"
	"index-options-callbot/internal/models"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrorObserver is notified of every failed read, e.g. for metrics.
type ErrorObserver interface {
	ObserveSourceError(instrument string)
}

// GuardedSource rate-limits reads from an upstream source and trips a
// per-instrument circuit breaker after consecutive failures.
type GuardedSource struct {
	next     PriceSource
	limiter  *rate.Limiter
	cfg      models.SourceConfig
	observer ErrorObserver
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewGuardedSource wraps next. observer may be nil.
func NewGuardedSource(next PriceSource, cfg models.SourceConfig, observer ErrorObserver, logger *zap.Logger) *GuardedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &GuardedSource{
		next:     next,
		limiter:  rate.NewLimiter(limit, burst),
		cfg:      cfg,
		observer: observer,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (g *GuardedSource) breaker(instrument string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := strings.ToUpper(instrument)
	if cb, ok := g.breakers[key]; ok {
		return cb
	}

	maxFailures := uint32(5)
	if g.cfg.BreakerMaxFailures > 0 {
		maxFailures = uint32(g.cfg.BreakerMaxFailures)
	}
	timeout := 30 * time.Second
	if g.cfg.BreakerTimeoutSec > 0 {
		timeout = time.Duration(g.cfg.BreakerTimeoutSec) * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "price-source-" + key,
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// 无数据或调用方取消不算上游故障
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData) || errors.Is(err, ErrExhausted) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("Price source breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
	g.breakers[key] = cb
	return cb
}

// State reports the breaker state for instrument.
func (g *GuardedSource) State(instrument string) gobreaker.State {
	return g.breaker(instrument).State()
}

func (g *GuardedSource) LatestPrice(ctx context.Context, instrument string) (models.PriceSample, error) {
	v, err := g.do(ctx, instrument, func() (interface{}, error) {
		sample, err := g.next.LatestPrice(ctx, instrument)
		if err != nil {
			return nil, err
		}
		if !sample.Valid() {
			return nil, ErrNoData
		}
		return sample, nil
	})
	if err != nil {
		return models.PriceSample{}, err
	}
	return v.(models.PriceSample), nil
}

func (g *GuardedSource) PriceWindow(ctx context.Context, instrument string, n int) ([]models.PriceSample, error) {
	v, err := g.do(ctx, instrument, func() (interface{}, error) {
		samples, err := g.next.PriceWindow(ctx, instrument, n)
		if err != nil {
			return nil, err
		}
		valid := samples[:0:0]
		for _, s := range samples {
			if s.Valid() {
				valid = append(valid, s)
			}
		}
		if len(valid) == 0 {
			return nil, ErrNoData
		}
		return valid, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.PriceSample), nil
}

func (g *GuardedSource) do(ctx context.Context, instrument string, fn func() (interface{}, error)) (interface{}, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", instrument, err)
	}
	v, err := g.breaker(instrument).Execute(fn)
	if err != nil && !errors.Is(err, ErrNoData) && !errors.Is(err, ErrExhausted) {
		if g.observer != nil {
			g.observer.ObserveSourceError(instrument)
		}
		g.logger.Debug("Price read failed", zap.String("instrument", instrument), zap.Error(err))
	}
	return v, err
}
