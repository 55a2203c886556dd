package feed

import (
	"context"
	"errors"
	"index-options-callbot/internal/models"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func series(n int, start float64) []models.PriceSample {
	t0 := time.Date(2025, 1, 6, 9, 15, 0, 0, ist)
	out := make([]models.PriceSample, n)
	for i := range out {
		out[i] = models.PriceSample{Timestamp: t0.Add(time.Duration(i) * time.Minute), Price: start + float64(i)}
	}
	return out
}

func TestReplaySource(t *testing.T) {
	ctx := context.Background()
	src := NewReplaySource(map[string][]models.PriceSample{"nifty": series(5, 100)}, 2)

	window, err := src.PriceWindow(ctx, "NIFTY", 10)
	require.NoError(t, err)
	require.Len(t, window, 2, "only warmup samples are visible")
	assert.Equal(t, 101.0, window[1].Price)

	s, err := src.LatestPrice(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, 102.0, s.Price)
	assert.Equal(t, 2, src.Remaining("NIFTY"))

	window, err = src.PriceWindow(ctx, "NIFTY", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{101, 102}, []float64{window[0].Price, window[1].Price})

	_, _ = src.LatestPrice(ctx, "NIFTY")
	_, _ = src.LatestPrice(ctx, "NIFTY")
	assert.True(t, src.Exhausted())
	_, err = src.LatestPrice(ctx, "NIFTY")
	assert.ErrorIs(t, err, ErrExhausted)

	_, err = src.LatestPrice(ctx, "SENSEX")
	assert.ErrorIs(t, err, models.ErrUnknownInstrument)
}

func TestReplaySource_NoWarmup(t *testing.T) {
	src := NewReplaySource(map[string][]models.PriceSample{"NIFTY": series(3, 100)}, 0)
	_, err := src.PriceWindow(context.Background(), "NIFTY", 5)
	assert.ErrorIs(t, err, ErrNoData)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.LatestPrice(ctx, "NIFTY")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadSeriesCSV(t *testing.T) {
	input := strings.Join([]string{
		"timestamp,price,volume",
		"2025-01-06T09:15:00+05:30,25000.5,100",
		"2025-01-06 09:16:00,25001",
		"1736135220,0",
		"1736135280000,25003.25,7",
	}, "\n")

	got, err := ReadSeriesCSV(strings.NewReader(input), ist)
	require.NoError(t, err)
	require.Len(t, got, 3, "zero price row dropped")

	assert.Equal(t, 25000.5, got[0].Price)
	assert.Equal(t, 100.0, got[0].Volume)
	assert.True(t, got[1].Timestamp.Equal(time.Date(2025, 1, 6, 9, 16, 0, 0, ist)))
	assert.True(t, got[2].Timestamp.Equal(time.UnixMilli(1736135280000)))
	assert.Equal(t, 7.0, got[2].Volume)
}

func TestReadSeriesCSV_DropsNonFinitePrices(t *testing.T) {
	input := strings.Join([]string{
		"2025-01-06T09:15:00+05:30,25000",
		"2025-01-06T09:16:00+05:30,+Inf",
		"2025-01-06T09:17:00+05:30,-Inf",
		"2025-01-06T09:18:00+05:30,NaN",
		"2025-01-06T09:19:00+05:30,25004",
	}, "\n")

	got, err := ReadSeriesCSV(strings.NewReader(input), ist)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 25000.0, got[0].Price)
	assert.Equal(t, 25004.0, got[1].Price)
}

func TestReadSeriesCSV_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{name: "single column", input: "2025-01-06T09:15:00Z\n"},
		{name: "bad timestamp", input: "yesterday,100\n"},
		{name: "bad price", input: "2025-01-06T09:15:00Z,100\n2025-01-06T09:16:00Z,abc\n"},
		{name: "bad volume", input: "2025-01-06T09:15:00Z,100,many\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadSeriesCSV(strings.NewReader(tc.input), nil)
			assert.Error(t, err)
		})
	}
}

func TestReadSeriesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nifty.csv")
	require.NoError(t, os.WriteFile(path, []byte("1736135100,25000\n1736135160,25010\n"), 0o644))

	got, err := ReadSeriesFile(path, time.UTC)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = ReadSeriesFile(filepath.Join(t.TempDir(), "missing.csv"), time.UTC)
	assert.Error(t, err)
}

// flakySource fails every call until healthy is set.
type flakySource struct {
	mu      sync.Mutex
	calls   int
	healthy bool
	zero    bool
}

func (f *flakySource) LatestPrice(context.Context, string) (models.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.zero {
		return models.PriceSample{Timestamp: time.Now()}, nil
	}
	if !f.healthy {
		return models.PriceSample{}, errors.New("upstream unavailable")
	}
	return models.PriceSample{Timestamp: time.Now(), Price: 25000}, nil
}

func (f *flakySource) PriceWindow(ctx context.Context, instrument string, n int) ([]models.PriceSample, error) {
	s, err := f.LatestPrice(ctx, instrument)
	if err != nil {
		return nil, err
	}
	return []models.PriceSample{{Price: 0}, s}, nil
}

type errorCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (e *errorCounter) ObserveSourceError(instrument string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.counts == nil {
		e.counts = map[string]int{}
	}
	e.counts[instrument]++
}

func TestGuardedSource_BreakerTrips(t *testing.T) {
	upstream := &flakySource{}
	obs := &errorCounter{}
	g := NewGuardedSource(upstream, models.SourceConfig{BreakerMaxFailures: 3, BreakerTimeoutSec: 60}, obs, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.LatestPrice(ctx, "NIFTY")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State("NIFTY"))

	upstream.mu.Lock()
	upstream.healthy = true
	upstream.mu.Unlock()

	_, err := g.LatestPrice(ctx, "NIFTY")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, upstream.calls, "open breaker short-circuits the upstream")
	assert.Equal(t, 4, obs.counts["NIFTY"])

	s, err := g.LatestPrice(ctx, "BANKNIFTY")
	require.NoError(t, err, "breakers are per instrument")
	assert.Equal(t, 25000.0, s.Price)
}

func TestGuardedSource_ZeroPriceIsNoData(t *testing.T) {
	upstream := &flakySource{zero: true}
	obs := &errorCounter{}
	g := NewGuardedSource(upstream, models.SourceConfig{BreakerMaxFailures: 1}, obs, nil)

	for i := 0; i < 3; i++ {
		_, err := g.LatestPrice(context.Background(), "NIFTY")
		assert.ErrorIs(t, err, ErrNoData)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State("NIFTY"))
	assert.Empty(t, obs.counts)
}

func TestGuardedSource_WindowFiltersInvalid(t *testing.T) {
	g := NewGuardedSource(&flakySource{healthy: true}, models.SourceConfig{}, nil, nil)
	window, err := g.PriceWindow(context.Background(), "NIFTY", 2)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, 25000.0, window[0].Price)
}

func TestGuardedSource_RateLimitHonoursContext(t *testing.T) {
	g := NewGuardedSource(&flakySource{healthy: true}, models.SourceConfig{RequestsPerSecond: 0.001, Burst: 1}, nil, nil)
	_, err := g.LatestPrice(context.Background(), "NIFTY")
	require.NoError(t, err, "burst allows the first read")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.LatestPrice(ctx, "NIFTY")
	assert.Error(t, err)
}
