package indicators

import (
	"index-options-callbot/internal/models"
	"sync"
)

// Series is a bounded rolling window of price samples. Once full, each
// append evicts the oldest sample.
type Series struct {
	mu       sync.RWMutex
	capacity int
	samples  []models.PriceSample
}

// NewSeries creates an empty window holding at most capacity samples.
func NewSeries(capacity int) *Series {
	if capacity < 1 {
		capacity = 1
	}
	return &Series{
		capacity: capacity,
		samples:  make([]models.PriceSample, 0, capacity),
	}
}

// SeriesFrom builds a window from existing samples, keeping the newest ones.
func SeriesFrom(capacity int, samples []models.PriceSample) *Series {
	s := NewSeries(capacity)
	for _, sample := range samples {
		s.Append(sample)
	}
	return s
}

// Append adds a sample. Invalid samples and samples not newer than the
// newest one are ignored; the return value reports whether the sample was kept.
func (s *Series) Append(sample models.PriceSample) bool {
	if !sample.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.samples); n > 0 && !sample.Timestamp.After(s.samples[n-1].Timestamp) {
		return false
	}
	if len(s.samples) == s.capacity {
		copy(s.samples, s.samples[1:])
		s.samples = s.samples[:s.capacity-1]
	}
	s.samples = append(s.samples, sample)
	return true
}

// Len returns the number of samples in the window.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Last returns the newest sample.
func (s *Series) Last() (models.PriceSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return models.PriceSample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// Samples returns a copy of the window, oldest first.
func (s *Series) Samples() []models.PriceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PriceSample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Prices returns the prices of the window, oldest first.
func (s *Series) Prices() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.samples))
	for i, sample := range s.samples {
		out[i] = sample.Price
	}
	return out
}
