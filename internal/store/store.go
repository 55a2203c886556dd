package store

import (
	"fmt"
	"index-options-callbot/internal/models"
	"sort"
	"sync"
)

// PositionStore owns the active position of every instrument. Each
// instrument is guarded by its own lock so unrelated instruments never
// serialize against each other.
type PositionStore interface {
	// Get returns a copy of the open position, or nil.
	Get(instrument string) *models.Position
	// TryOpen installs pos as the instrument's open position. It fails with
	// ErrInvariantViolation if one is already open.
	TryOpen(pos *models.Position) error
	// Update replaces the open position with a newer copy of itself.
	Update(pos *models.Position) error
	// Close removes the open position with the given id.
	Close(instrument, positionID string) (*models.Position, error)
	// Active lists copies of all open positions sorted by instrument.
	Active() []*models.Position
	// WithLock runs fn on a copy of the current position (nil when none)
	// while holding the instrument's lock and installs what fn returns.
	// Returning an error leaves the slot unchanged.
	WithLock(instrument string, fn func(current *models.Position) (*models.Position, error)) error
}

type slot struct {
	mu  sync.Mutex
	pos *models.Position
}

// MemoryStore is the in-process PositionStore.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

var _ PositionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]*slot)}
}

func (s *MemoryStore) slot(instrument string) *slot {
	s.mu.RLock()
	sl, ok := s.slots[instrument]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[instrument]; !ok {
		sl = &slot{}
		s.slots[instrument] = sl
	}
	return sl
}

func (s *MemoryStore) Get(instrument string) *models.Position {
	sl := s.slot(instrument)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.pos.Clone()
}

func (s *MemoryStore) TryOpen(pos *models.Position) error {
	if pos == nil || pos.Status != models.Open {
		return fmt.Errorf("%w: only open positions can be installed", models.ErrInvariantViolation)
	}
	sl := s.slot(pos.Instrument)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.pos != nil {
		return fmt.Errorf("%w: %s already has open position %s", models.ErrInvariantViolation, pos.Instrument, sl.pos.ID)
	}
	sl.pos = pos.Clone()
	return nil
}

func (s *MemoryStore) Update(pos *models.Position) error {
	sl := s.slot(pos.Instrument)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.pos == nil || sl.pos.ID != pos.ID {
		return fmt.Errorf("%w: %s has no open position %s", models.ErrInvariantViolation, pos.Instrument, pos.ID)
	}
	sl.pos = pos.Clone()
	return nil
}

func (s *MemoryStore) Close(instrument, positionID string) (*models.Position, error) {
	sl := s.slot(instrument)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.pos == nil || sl.pos.ID != positionID {
		return nil, fmt.Errorf("%w: %s has no open position %s", models.ErrInvariantViolation, instrument, positionID)
	}
	closed := sl.pos
	sl.pos = nil
	return closed, nil
}

func (s *MemoryStore) Active() []*models.Position {
	s.mu.RLock()
	names := make([]string, 0, len(s.slots))
	for name := range s.slots {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	var out []*models.Position
	for _, name := range names {
		if pos := s.Get(name); pos != nil {
			out = append(out, pos)
		}
	}
	return out
}

// WithLock holds the instrument lock for fn. fn must not call back into the
// store for the same instrument.
func (s *MemoryStore) WithLock(instrument string, fn func(current *models.Position) (*models.Position, error)) error {
	sl := s.slot(instrument)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	next, err := fn(sl.pos.Clone())
	if err != nil {
		return err
	}
	if next != nil && (next.Instrument != instrument || next.Status != models.Open) {
		return fmt.Errorf("%w: cannot install %s position for %s", models.ErrInvariantViolation, next.Status, instrument)
	}
	sl.pos = next.Clone()
	return nil
}
