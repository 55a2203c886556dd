package scanner

import (
	"fmt"
	"index-options-callbot/internal/indicators"
	"index-options-callbot/internal/models"
	"index-options-callbot/internal/pricing"
	"index-options-callbot/internal/store"
	"math"
	"time"

	"go.uber.org/zap"
)

// RejectReason names the gate that stopped a signal.
type RejectReason string

const (
	Accepted               RejectReason = ""
	RejectExistingPosition RejectReason = "existing_position"
	RejectCooldown         RejectReason = "cooldown"
	RejectDailyCap         RejectReason = "daily_cap"
	RejectInsufficientData RejectReason = "insufficient_data"
	RejectVolatility       RejectReason = "volatility_band"
	RejectNoDirection      RejectReason = "no_direction"
	RejectLowConfidence    RejectReason = "low_confidence"
	RejectPricing          RejectReason = "pricing"
)

// Rejection explains why Evaluate produced no signal.
type Rejection struct {
	Reason RejectReason
	Detail string
}

// Ok reports whether the evaluation was accepted.
func (r Rejection) Ok() bool {
	return r.Reason == Accepted
}

func (r Rejection) String() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Observer receives scanner outcomes, e.g. for metrics.
type Observer interface {
	ObserveSignal(sig *models.Signal)
	ObserveRejection(instrument, reason string)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(s *Scanner) { s.observer = o }
}

// WithLocation sets the timezone used to bucket calls into trading days.
func WithLocation(loc *time.Location) Option {
	return func(s *Scanner) { s.loc = loc }
}

// Scanner decides whether an instrument deserves a new call.
type Scanner struct {
	params    models.ScannerParams
	ind       models.IndicatorParams
	positions store.PositionStore
	observer  Observer
	loc       *time.Location
	logger    *zap.Logger
}

// New creates a Scanner that consults positions for the existing-position gate.
func New(params models.ScannerParams, ind models.IndicatorParams, positions store.PositionStore, opts ...Option) *Scanner {
	s := &Scanner{
		params:    params,
		ind:       ind,
		positions: positions,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate runs the gate chain for one instrument. On acceptance the call is
// appended to history and the priced signal returned.
func (s *Scanner) Evaluate(inst models.Instrument, series *indicators.Series, history *CallHistory, now time.Time) (*models.Signal, Rejection) {
	loc := s.loc
	if loc == nil {
		loc = now.Location()
	}

	if s.positions != nil && s.positions.Get(inst.Name) != nil {
		return s.reject(inst, RejectExistingPosition, "")
	}
	if last, ok := history.Last(); ok && now.Sub(last) < inst.Cooldown() {
		return s.reject(inst, RejectCooldown, fmt.Sprintf("last call %s ago", now.Sub(last).Round(time.Minute)))
	}
	history.Prune(now, loc)
	if n := history.CountOn(now, loc); n >= inst.DailyCap {
		return s.reject(inst, RejectDailyCap, fmt.Sprintf("%d calls today", n))
	}

	snap := indicators.Compute(series, s.ind)
	if !snap.Warm {
		return s.reject(inst, RejectInsufficientData, fmt.Sprintf("%d samples", snap.Samples))
	}
	if snap.Volatility < s.params.MinVolatility || snap.Volatility > s.params.MaxVolatility {
		return s.reject(inst, RejectVolatility, fmt.Sprintf("volatility %.5f", snap.Volatility))
	}

	dir, ok := s.direction(inst, snap)
	if !ok {
		return s.reject(inst, RejectNoDirection, fmt.Sprintf("rsi %.1f momentum %.2f%%", snap.RSI, snap.Momentum))
	}
	confidence := s.Confidence(snap, dir)
	if confidence < inst.ConfidenceThreshold {
		return s.reject(inst, RejectLowConfidence, fmt.Sprintf("%.1f < %.1f", confidence, inst.ConfidenceThreshold))
	}

	quote, err := pricing.QuoteForSignal(inst, snap.Price, dir, now)
	if err != nil {
		s.logger.Warn("Pricing failed, skipping instrument for this tick",
			zap.String("instrument", inst.Name), zap.Error(err))
		return s.reject(inst, RejectPricing, err.Error())
	}

	history.Append(now)
	sig := &models.Signal{
		Instrument: inst.Name,
		Direction:  dir,
		Confidence: confidence,
		Price:      snap.Price,
		Timestamp:  now,
		Rationale:  s.rationale(dir, snap),
		Indicators: snap,
		Quote:      &quote,
	}
	if s.observer != nil {
		s.observer.ObserveSignal(sig)
	}
	return sig, Rejection{}
}

func (s *Scanner) reject(inst models.Instrument, reason RejectReason, detail string) (*models.Signal, Rejection) {
	s.logger.Debug("No signal",
		zap.String("instrument", inst.Name),
		zap.String("reason", string(reason)),
		zap.String("detail", detail))
	if s.observer != nil {
		s.observer.ObserveRejection(inst.Name, string(reason))
	}
	return nil, Rejection{Reason: reason, Detail: detail}
}

// direction requires EMA alignment, price beyond the fast EMA, RSI inside
// the directional band and momentum past the instrument's minimum movement.
func (s *Scanner) direction(inst models.Instrument, snap models.IndicatorSnapshot) (models.Direction, bool) {
	switch {
	case snap.EMAFast > snap.EMASlow && snap.Price > snap.EMAFast &&
		s.params.BullishRSI.Contains(snap.RSI) && snap.Momentum > inst.MinMovementPct:
		return models.Long, true
	case snap.EMAFast < snap.EMASlow && snap.Price < snap.EMAFast &&
		s.params.BearishRSI.Contains(snap.RSI) && snap.Momentum < -inst.MinMovementPct:
		return models.Short, true
	}
	return "", false
}

// Confidence scores a snapshot for dir on a 0-100 scale.
func (s *Scanner) Confidence(snap models.IndicatorSnapshot, dir models.Direction) float64 {
	sign := dir.Sign()
	w := s.params.Weights

	rsiScore := clamp01(0.5 + (snap.RSI-50)*sign/30)

	trendScore := 0.0
	if (snap.EMAFast-snap.EMASlow)*sign > 0 {
		trendScore += 0.5
	}
	if (snap.Price-snap.EMAFast)*sign > 0 {
		trendScore += 0.5
	}

	momentumScore := 0.0
	if snap.Momentum*sign > 0 && s.params.MomentumFullScalePct > 0 {
		momentumScore = clamp01(math.Abs(snap.Momentum) / s.params.MomentumFullScalePct)
	}

	volScore := 0.0
	mid := (s.params.MinVolatility + s.params.MaxVolatility) / 2
	if half := (s.params.MaxVolatility - s.params.MinVolatility) / 2; half > 0 {
		volScore = clamp01(1 - math.Abs(snap.Volatility-mid)/half)
	}

	score := w.RSI*rsiScore + w.Trend*trendScore + w.Momentum*momentumScore + w.Volatility*volScore
	return math.Min(100, math.Max(0, 100*score))
}

func (s *Scanner) rationale(dir models.Direction, snap models.IndicatorSnapshot) string {
	cmp := ">"
	if dir == models.Short {
		cmp = "<"
	}
	return fmt.Sprintf("EMA%d %.2f %s EMA%d %.2f, RSI %.1f, momentum %.2f%% over %d ticks, volatility %.4f",
		s.ind.EMAFast, snap.EMAFast, cmp, s.ind.EMASlow, snap.EMASlow,
		snap.RSI, snap.Momentum, s.ind.MomentumLookback, snap.Volatility)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
