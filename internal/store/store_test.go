package store

import (
	"errors"
	"fmt"
	"index-options-callbot/internal/models"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPosition(instrument, id string) *models.Position {
	return &models.Position{
		ID:         id,
		Instrument: instrument,
		Direction:  models.Long,
		EntryPrice: 25000,
		Status:     models.Open,
	}
}

func TestMemoryStore_OpenUpdateClose(t *testing.T) {
	s := NewMemoryStore()
	assert.Nil(t, s.Get("NIFTY"))

	require.NoError(t, s.TryOpen(newPosition("NIFTY", "p1")))
	err := s.TryOpen(newPosition("NIFTY", "p2"))
	assert.True(t, errors.Is(err, models.ErrInvariantViolation), "second open position is rejected")

	got := s.Get("NIFTY")
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.ID)

	got.Target1Achieved = true
	assert.False(t, s.Get("NIFTY").Target1Achieved, "Get returns a copy")
	require.NoError(t, s.Update(got))
	assert.True(t, s.Get("NIFTY").Target1Achieved)

	assert.Error(t, s.Update(newPosition("NIFTY", "other")))

	_, err = s.Close("NIFTY", "other")
	assert.Error(t, err)
	closed, err := s.Close("NIFTY", "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", closed.ID)
	assert.Nil(t, s.Get("NIFTY"))

	require.NoError(t, s.TryOpen(newPosition("NIFTY", "p3")), "a new position may open after close")
}

func TestMemoryStore_RejectsClosedPosition(t *testing.T) {
	s := NewMemoryStore()
	pos := newPosition("NIFTY", "p1")
	pos.Status = models.ClosedOnTarget
	assert.True(t, errors.Is(s.TryOpen(pos), models.ErrInvariantViolation))
}

func TestMemoryStore_Active(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.TryOpen(newPosition("SENSEX", "s1")))
	require.NoError(t, s.TryOpen(newPosition("BANKNIFTY", "b1")))
	s.Get("NIFTY")

	active := s.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "BANKNIFTY", active[0].Instrument)
	assert.Equal(t, "SENSEX", active[1].Instrument)
}

func TestMemoryStore_WithLock(t *testing.T) {
	s := NewMemoryStore()

	err := s.WithLock("NIFTY", func(current *models.Position) (*models.Position, error) {
		assert.Nil(t, current)
		return newPosition("NIFTY", "p1"), nil
	})
	require.NoError(t, err)

	sentinel := errors.New("rejected")
	err = s.WithLock("NIFTY", func(current *models.Position) (*models.Position, error) {
		return nil, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.NotNil(t, s.Get("NIFTY"), "error leaves the slot unchanged")

	err = s.WithLock("NIFTY", func(current *models.Position) (*models.Position, error) {
		return newPosition("BANKNIFTY", "x"), nil
	})
	assert.True(t, errors.Is(err, models.ErrInvariantViolation))
}

// TestMemoryStore_OneOpenPerInstrument races check-then-open and close
// operations across instruments. Every successful open must be matched by a
// close except for at most one position left open per instrument.
func TestMemoryStore_OneOpenPerInstrument(t *testing.T) {
	s := NewMemoryStore()
	instruments := []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "SENSEX"}

	var mu sync.Mutex
	opened := map[string]int{}
	closed := map[string]int{}
	count := func(m map[string]int, inst string) {
		mu.Lock()
		m[inst]++
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))
			for i := 0; i < 500; i++ {
				inst := instruments[rng.Intn(len(instruments))]
				id := fmt.Sprintf("%s-%d-%d", inst, worker, i)
				switch rng.Intn(3) {
				case 0:
					installed := false
					err := s.WithLock(inst, func(current *models.Position) (*models.Position, error) {
						if current != nil {
							return current, nil
						}
						installed = true
						return newPosition(inst, id), nil
					})
					assert.NoError(t, err)
					if installed {
						count(opened, inst)
					}
				case 1:
					if err := s.TryOpen(newPosition(inst, id)); err == nil {
						count(opened, inst)
					} else {
						assert.True(t, errors.Is(err, models.ErrInvariantViolation))
					}
				default:
					if cur := s.Get(inst); cur != nil {
						if _, err := s.Close(inst, cur.ID); err == nil {
							count(closed, inst)
						}
					}
				}
			}
		}(w)
	}
	wg.Wait()

	for _, inst := range instruments {
		stillOpen := 0
		if s.Get(inst) != nil {
			stillOpen = 1
		}
		assert.Equal(t, stillOpen, opened[inst]-closed[inst], inst)
	}
}
