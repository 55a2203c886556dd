package feed

import (
	"context"
	"fmt"
	"index-options-callbot/internal/models"
	"sort"
	"strings"
	"sync"
)

// ReplaySource serves recorded series as if they were live. Each LatestPrice
// call consumes the next sample; PriceWindow returns only consumed samples.
type ReplaySource struct {
	mu     sync.Mutex
	series map[string][]models.PriceSample
	cursor map[string]int
}

// NewReplaySource creates a replay over series keyed by instrument. The first
// warmup samples of every series count as already consumed, so a scan window
// is available before the first tick.
func NewReplaySource(series map[string][]models.PriceSample, warmup int) *ReplaySource {
	r := &ReplaySource{
		series: make(map[string][]models.PriceSample, len(series)),
		cursor: make(map[string]int, len(series)),
	}
	for name, samples := range series {
		key := strings.ToUpper(name)
		cp := append([]models.PriceSample(nil), samples...)
		sort.SliceStable(cp, func(i, j int) bool { return cp[i].Timestamp.Before(cp[j].Timestamp) })
		r.series[key] = cp
		if warmup > len(cp) {
			r.cursor[key] = len(cp)
		} else if warmup > 0 {
			r.cursor[key] = warmup
		}
	}
	return r
}

func (r *ReplaySource) LatestPrice(ctx context.Context, instrument string) (models.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return models.PriceSample{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToUpper(instrument)
	samples, ok := r.series[key]
	if !ok {
		return models.PriceSample{}, fmt.Errorf("%w: %s", models.ErrUnknownInstrument, instrument)
	}
	cur := r.cursor[key]
	if cur >= len(samples) {
		return models.PriceSample{}, ErrExhausted
	}
	r.cursor[key] = cur + 1
	return samples[cur], nil
}

func (r *ReplaySource) PriceWindow(ctx context.Context, instrument string, n int) ([]models.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToUpper(instrument)
	samples, ok := r.series[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownInstrument, instrument)
	}
	cur := r.cursor[key]
	if cur == 0 || n <= 0 {
		return nil, ErrNoData
	}
	start := cur - n
	if start < 0 {
		start = 0
	}
	return append([]models.PriceSample(nil), samples[start:cur]...), nil
}

// Remaining reports how many samples are left for instrument.
func (r *ReplaySource) Remaining(instrument string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToUpper(instrument)
	return len(r.series[key]) - r.cursor[key]
}

// Exhausted reports whether every series has been consumed.
func (r *ReplaySource) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, samples := range r.series {
		if r.cursor[key] < len(samples) {
			return false
		}
	}
	return true
}
