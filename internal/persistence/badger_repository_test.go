package persistence

import (
	"index-options-callbot/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) StateRepository {
	t.Helper()
	repo, err := NewBadgerRepository("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestBadgerRepository_StateRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	missing, err := repo.LoadState("NIFTY")
	require.NoError(t, err)
	assert.Nil(t, missing, "no state yields (nil, nil)")

	state := &models.InstrumentState{
		Instrument: "NIFTY",
		Version:    models.StateVersion,
		Position: &models.Position{
			ID:              "NIFTY-abc",
			Instrument:      "NIFTY",
			Direction:       models.Long,
			EntryPrice:      25000,
			EntryTimestamp:  now,
			Targets:         models.TargetLevels{Target1: 25040, Target2: 25080, Target3: 25130, StopLoss: 24975},
			Target1Achieved: true,
			Status:          models.Open,
			EntryQuote:      &models.OptionQuote{Strike: 25000, OptionType: models.Call, Premium: 112.5},
		},
		CallHistory: []time.Time{now},
		LastPrice:   25045,
		UpdatedAt:   now,
	}
	require.NoError(t, repo.SaveState(state))

	loaded, err := repo.LoadState("NIFTY")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.NotNil(t, loaded.Position)
	assert.Equal(t, "NIFTY-abc", loaded.Position.ID)
	assert.True(t, loaded.Position.Target1Achieved)
	assert.Equal(t, state.Position.Targets, loaded.Position.Targets)
	assert.Equal(t, 112.5, loaded.Position.EntryQuote.Premium)
	require.Len(t, loaded.CallHistory, 1)
	assert.True(t, now.Equal(loaded.CallHistory[0]))

	require.NoError(t, repo.SaveState(&models.InstrumentState{Instrument: "SENSEX", UpdatedAt: now}))
	all, err := repo.LoadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.DeleteState("NIFTY"))
	gone, err := repo.LoadState("NIFTY")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestBadgerRepository_SaveStateRequiresInstrument(t *testing.T) {
	repo := newTestRepo(t)
	assert.Error(t, repo.SaveState(&models.InstrumentState{}))
}

func TestBadgerRepository_Results(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	results := []*models.TradeResult{
		{PositionID: "b", Instrument: "NIFTY", PnL: -25, CloseReason: models.CloseReasonStopLoss, ExitTime: base.Add(2 * time.Hour)},
		{PositionID: "a", Instrument: "NIFTY", PnL: 130, CloseReason: models.CloseReasonTarget, ExitTime: base.Add(time.Hour)},
		{PositionID: "c", Instrument: "NIFTYNXT", PnL: 10, CloseReason: models.CloseReasonTarget, ExitTime: base},
	}
	for _, r := range results {
		require.NoError(t, repo.AppendResult(r))
	}

	nifty, err := repo.LoadResults("NIFTY")
	require.NoError(t, err)
	require.Len(t, nifty, 2, "prefix scan does not leak into other instruments")
	assert.Equal(t, "a", nifty[0].PositionID)
	assert.Equal(t, "b", nifty[1].PositionID)
	assert.Equal(t, models.CloseReasonStopLoss, nifty[1].CloseReason)

	all, err := repo.LoadResults("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].PositionID)
}

func TestBadgerRepository_OnDisk(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewBadgerRepository(dir)
	require.NoError(t, err)
	require.NoError(t, repo.SaveState(&models.InstrumentState{Instrument: "BANKNIFTY", LastPrice: 51000}))
	require.NoError(t, repo.Close())

	reopened, err := NewBadgerRepository(dir)
	require.NoError(t, err)
	defer reopened.Close()

	state, err := reopened.LoadState("BANKNIFTY")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 51000.0, state.LastPrice)
}
