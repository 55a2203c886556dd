package lifecycle

import (
	"fmt"
	"index-options-callbot/internal/models"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// Rules holds the per-instrument parameters the state machine needs.
type Rules struct {
	TickSize             float64
	MomentumExtensionPct float64 // favourable excursion, percent of entry, that re-calibrates targets
	ExtensionFraction    float64 // share of the excursion each target moves outward
}

// RulesFor extracts the lifecycle rules from an instrument.
func RulesFor(inst models.Instrument) Rules {
	return Rules{
		TickSize:             inst.TickSize,
		MomentumExtensionPct: inst.MomentumExtensionPct,
		ExtensionFraction:    inst.ExtensionFraction,
	}
}

// Outcome is the result of feeding one price into a position.
type Outcome struct {
	Position *models.Position
	Events   []models.LifecycleEvent
	Result   *models.TradeResult // set only on a terminal transition
}

// Closed reports whether the tick closed the position.
func (o Outcome) Closed() bool {
	return o.Result != nil
}

// roundTo snaps v to the tick grid. Ticks like 0.05 divide through their
// integral reciprocal so whole-point levels stay exact.
func roundTo(v, tick float64) float64 {
	if tick <= 0 {
		return v
	}
	if inv := math.Round(1 / tick); inv >= 1 && math.Abs(1/tick-inv) < 1e-9 {
		return math.Round(v*inv) / inv
	}
	return math.Round(v/tick) * tick
}

// BuildTargets turns a distance table into direction-aware price levels:
// targets above entry and stop-loss below for Long, mirrored for Short.
func BuildTargets(entry float64, dir models.Direction, table models.TargetDistances, tick float64) (models.TargetLevels, error) {
	if entry <= 0 {
		return models.TargetLevels{}, fmt.Errorf("%w: entry price %.2f", models.ErrInvalidTargets, entry)
	}
	if table.Target1 <= 0 || table.Target2 <= table.Target1 || table.Target3 <= table.Target2 || table.StopLoss <= 0 {
		return models.TargetLevels{}, fmt.Errorf("%w: %+v", models.ErrInvalidTargets, table)
	}
	s := dir.Sign()
	return models.TargetLevels{
		Target1:  roundTo(entry+s*table.Target1, tick),
		Target2:  roundTo(entry+s*table.Target2, tick),
		Target3:  roundTo(entry+s*table.Target3, tick),
		StopLoss: roundTo(entry-s*table.StopLoss, tick),
	}, nil
}

// NewPositionID returns a compact unique id prefixed with the instrument.
func NewPositionID(instrument string) string {
	id := uuid.New()
	return instrument + "-" + base62.EncodeToString(id[:])
}

// Open creates an Open position from an accepted signal.
func Open(sig *models.Signal, targets models.TargetLevels) *models.Position {
	return &models.Position{
		ID:              NewPositionID(sig.Instrument),
		Instrument:      sig.Instrument,
		Direction:       sig.Direction,
		EntryPrice:      sig.Price,
		EntryTimestamp:  sig.Timestamp,
		Confidence:      sig.Confidence,
		Targets:         targets,
		OriginalTargets: targets,
		Status:          models.Open,
		EntryQuote:      sig.Quote,
		LastPrice:       sig.Price,
		LastUpdate:      sig.Timestamp,
	}
}

// crossed reports whether price is at or beyond level in the favourable
// direction for dir.
func crossed(dir models.Direction, price, level float64) bool {
	if dir == models.Short {
		return price <= level
	}
	return price >= level
}

// adverse reports whether price is at or beyond the stop-loss.
func adverse(dir models.Direction, price, stop float64) bool {
	if dir == models.Short {
		return price >= stop
	}
	return price <= stop
}

// Tick advances the position by one observed price. The input position is
// not modified; the returned Outcome carries the updated copy.
//
// Checks run stop-loss, then T3, then T2, then T1. A terminal tick emits only
// the terminal event. A tick that jumps past T2 before T1 was reported emits
// Target1Achieved followed by Target2Achieved. Non-finite or non-positive
// prices are ignored. Target re-calibration is evaluated on non-terminal ticks
// and fires at most once per position.
func Tick(pos *models.Position, price float64, at time.Time, rules Rules) Outcome {
	next := pos.Clone()
	if pos.Status != models.Open || !models.ValidPrice(price) {
		return Outcome{Position: next}
	}
	next.LastPrice = price
	next.LastUpdate = at

	event := func(typ models.LifecycleEventType) models.LifecycleEvent {
		return models.LifecycleEvent{Type: typ, PositionID: pos.ID, Instrument: pos.Instrument, Price: price, Timestamp: at}
	}

	t := next.Targets
	switch {
	case adverse(pos.Direction, price, t.StopLoss):
		return closePosition(next, t.StopLoss, models.ClosedOnStopLoss, at, event(models.StopLossHit))
	case crossed(pos.Direction, price, t.Target3):
		return closePosition(next, t.Target3, models.ClosedOnTarget, at, event(models.AllTargetsAchieved))
	}

	var events []models.LifecycleEvent
	if crossed(pos.Direction, price, t.Target2) && !next.Target2Achieved {
		// A jump straight past T1 still reports T1 first.
		if !next.Target1Achieved {
			next.Target1Achieved = true
			events = append(events, event(models.Target1Achieved))
		}
		next.Target2Achieved = true
		events = append(events, event(models.Target2Achieved))
	} else if crossed(pos.Direction, price, t.Target1) && !next.Target1Achieved {
		next.Target1Achieved = true
		events = append(events, event(models.Target1Achieved))
	}

	if ev, ok := recalibrate(next, price, rules); ok {
		ev.PositionID, ev.Instrument, ev.Price, ev.Timestamp = pos.ID, pos.Instrument, price, at
		events = append(events, ev)
	}
	return Outcome{Position: next, Events: events}
}

// recalibrate shifts every target outward by a fraction of the favourable
// excursion once it exceeds the configured percent of entry.
func recalibrate(pos *models.Position, price float64, rules Rules) (models.LifecycleEvent, bool) {
	if pos.TargetsModified || rules.MomentumExtensionPct <= 0 {
		return models.LifecycleEvent{}, false
	}
	excursion := (price - pos.EntryPrice) * pos.Direction.Sign()
	if excursion <= 0 || excursion/pos.EntryPrice*100 < rules.MomentumExtensionPct {
		return models.LifecycleEvent{}, false
	}

	shift := pos.Direction.Sign() * excursion * rules.ExtensionFraction
	old := pos.Targets
	updated := models.TargetLevels{
		Target1:  roundTo(old.Target1+shift, rules.TickSize),
		Target2:  roundTo(old.Target2+shift, rules.TickSize),
		Target3:  roundTo(old.Target3+shift, rules.TickSize),
		StopLoss: old.StopLoss,
	}
	pos.Targets = updated
	pos.TargetsModified = true
	return models.LifecycleEvent{Type: models.TargetsModified, OldTargets: &old, NewTargets: &updated}, true
}

func closePosition(pos *models.Position, exit float64, status models.PositionStatus, at time.Time, ev models.LifecycleEvent) Outcome {
	pos.Status = status
	reason := models.CloseReasonTarget
	if status == models.ClosedOnStopLoss {
		reason = models.CloseReasonStopLoss
	}
	result := &models.TradeResult{
		PositionID:      pos.ID,
		Instrument:      pos.Instrument,
		Direction:       pos.Direction,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       exit,
		PnL:             (exit - pos.EntryPrice) * pos.Direction.Sign(),
		CloseReason:     reason,
		Confidence:      pos.Confidence,
		TargetsModified: pos.TargetsModified,
		EntryTime:       pos.EntryTimestamp,
		ExitTime:        at,
		Duration:        at.Sub(pos.EntryTimestamp),
	}
	if pos.EntryQuote != nil {
		result.EntryPremium = pos.EntryQuote.Premium
	}
	return Outcome{Position: pos, Events: []models.LifecycleEvent{ev}, Result: result}
}
