package scanner

import (
	"sort"
	"sync"
	"time"
)

// CallHistory records when signals were issued for one instrument.
type CallHistory struct {
	mu    sync.Mutex
	times []time.Time
}

// NewCallHistory creates a history seeded with previously issued calls.
func NewCallHistory(times ...time.Time) *CallHistory {
	h := &CallHistory{times: append([]time.Time(nil), times...)}
	sort.Slice(h.times, func(i, j int) bool { return h.times[i].Before(h.times[j]) })
	return h
}

// Append records a call at t.
func (h *CallHistory) Append(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.times = append(h.times, t)
}

// Last returns the most recent call time.
func (h *CallHistory) Last() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.times) == 0 {
		return time.Time{}, false
	}
	return h.times[len(h.times)-1], true
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// CountOn counts calls issued on day's calendar date in loc.
func (h *CallHistory) CountOn(day time.Time, loc *time.Location) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.times {
		if sameDay(t, day, loc) {
			n++
		}
	}
	return n
}

// Prune drops calls from days before now's date in loc.
func (h *CallHistory) Prune(now time.Time, loc *time.Location) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.times[:0]
	for _, t := range h.times {
		if sameDay(t, now, loc) || t.After(now) {
			kept = append(kept, t)
		}
	}
	h.times = kept
}

// Times returns a copy of the recorded calls, oldest first.
func (h *CallHistory) Times() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Time(nil), h.times...)
}
