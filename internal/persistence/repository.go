package persistence

import "index-options-callbot/internal/models"

// StateRepository defines the interface for state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves one instrument's state.
	SaveState(state *models.InstrumentState) error

	// LoadState loads an instrument's state from storage.
	// If no state is found, it should return (nil, nil).
	LoadState(instrument string) (*models.InstrumentState, error)

	// LoadAll loads the state of every persisted instrument.
	LoadAll() ([]*models.InstrumentState, error)

	// DeleteState removes an instrument's state. Deleting a missing key is not an error.
	DeleteState(instrument string) error

	// AppendResult appends a closed trade to the instrument's result log.
	AppendResult(result *models.TradeResult) error

	// LoadResults returns the instrument's results in exit-time order.
	// An empty instrument returns the results of all instruments.
	LoadResults(instrument string) ([]*models.TradeResult, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
