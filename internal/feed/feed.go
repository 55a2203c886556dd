package feed

import (
	"context"
	"errors"
	"index-options-callbot/internal/models"
)

// ErrNoData is returned when a source has no usable price for an instrument.
// Callers skip the evaluation.
var ErrNoData = errors.New("no price data")

// ErrExhausted is returned by a replay source once its series is consumed.
var ErrExhausted = errors.New("price series exhausted")

// PriceSource is the boundary to the market data provider. Windows are
// ordered oldest first with increasing timestamps.
type PriceSource interface {
	LatestPrice(ctx context.Context, instrument string) (models.PriceSample, error)
	PriceWindow(ctx context.Context, instrument string, n int) ([]models.PriceSample, error)
}
