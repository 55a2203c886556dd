package notify

import (
	"index-options-callbot/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecorderAndMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	n := Multi(a, nil, b)

	n.Publish(models.Notification{Kind: models.NotifySignal, Instrument: "NIFTY"})
	n.Publish(models.Notification{Kind: models.NotifyClosed, Instrument: "NIFTY"})

	assert.Len(t, a.All(), 2)
	assert.Len(t, b.All(), 2)
	assert.Len(t, a.OfKind(models.NotifyClosed), 1)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	n := NewLogNotifier(zap.New(core))

	n.Publish(models.Notification{
		Kind:       models.NotifySignal,
		Instrument: "NIFTY",
		Timestamp:  time.Now(),
		Signal: &models.Signal{
			Instrument: "NIFTY",
			Direction:  models.Long,
			Confidence: 81,
			Price:      25000,
			Quote:      &models.OptionQuote{Strike: 25000, OptionType: models.Call, Premium: 110},
		},
	})
	n.Publish(models.Notification{
		Kind:       models.NotifyClosed,
		Instrument: "NIFTY",
		Result:     &models.TradeResult{PositionID: "p1", PnL: 130, CloseReason: models.CloseReasonTarget},
	})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "New call", entries[0].Message)
	assert.Equal(t, 110.0, entries[0].ContextMap()["premium"])
	assert.Equal(t, "Position closed", entries[1].Message)
	assert.Equal(t, "CLOSED_ON_TARGET", entries[1].ContextMap()["reason"])
}

func TestAsync_DeliversAndDrains(t *testing.T) {
	rec := NewRecorder()
	a := NewAsync(rec, 16, zap.NewNop())
	for i := 0; i < 10; i++ {
		a.Publish(models.Notification{Kind: models.NotifyStatus})
	}
	a.Close()
	assert.Len(t, rec.All(), 10)
}
