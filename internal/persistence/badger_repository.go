package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"index-options-callbot/internal/models"
	"sort"

	"github.com/dgraph-io/badger/v3"
)

const (
	statePrefix  = "state/"
	resultPrefix = "result/"
)

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
// An empty dbPath opens an in-memory database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	// Errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dbPath, err)
	}
	return &badgerRepository{db: db}, nil
}

func stateKey(instrument string) []byte {
	return []byte(statePrefix + instrument)
}

// resultKey sorts lexically by exit time within an instrument.
func resultKey(r *models.TradeResult) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", resultPrefix, r.Instrument, r.ExitTime.UnixNano(), r.PositionID))
}

// SaveState marshals the state into JSON and saves it under the instrument's key.
func (r *badgerRepository) SaveState(state *models.InstrumentState) error {
	if state == nil || state.Instrument == "" {
		return errors.New("cannot save state without instrument")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(state.Instrument), data)
	})
}

// LoadState returns (nil, nil) when the instrument has no saved state.
func (r *badgerRepository) LoadState(instrument string) (*models.InstrumentState, error) {
	var state models.InstrumentState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(instrument))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *badgerRepository) LoadAll() ([]*models.InstrumentState, error) {
	var states []*models.InstrumentState
	err := r.scan(statePrefix, func(val []byte) error {
		var state models.InstrumentState
		if err := json.Unmarshal(val, &state); err != nil {
			return err
		}
		states = append(states, &state)
		return nil
	})
	return states, err
}

func (r *badgerRepository) DeleteState(instrument string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(stateKey(instrument))
	})
}

func (r *badgerRepository) AppendResult(result *models.TradeResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(resultKey(result), data)
	})
}

func (r *badgerRepository) LoadResults(instrument string) ([]*models.TradeResult, error) {
	prefix := resultPrefix
	if instrument != "" {
		prefix += instrument + "/"
	}
	var results []*models.TradeResult
	err := r.scan(prefix, func(val []byte) error {
		var res models.TradeResult
		if err := json.Unmarshal(val, &res); err != nil {
			return err
		}
		results = append(results, &res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].ExitTime.Before(results[j].ExitTime) })
	return results, nil
}

// scan visits every value under prefix in key order.
func (r *badgerRepository) scan(prefix string, fn func(val []byte) error) error {
	return r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
