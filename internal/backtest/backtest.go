package backtest

import (
	"index-options-callbot/internal/models"
	"index-options-callbot/internal/notify"
	"index-options-callbot/internal/scanner"
	"index-options-callbot/internal/statemanager"
	"index-options-callbot/internal/store"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stats 汇总一组交易结果的表现
type Stats struct {
	TotalTrades      int     `json:"total_trades"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	WinRate          float64 `json:"win_rate"`          // 0-1
	AvgPnL           float64 `json:"avg_pnl"`           // 点数
	TotalPnL         float64 `json:"total_pnl"`         // 点数
	CalibrationError float64 `json:"calibration_error"` // |confidence/100 - outcome| 的均值
	TargetHits       int     `json:"target_hits"`
	StopLossHits     int     `json:"stop_loss_hits"`
	TargetsModified  int     `json:"targets_modified"`
	OpenAtEnd        int     `json:"open_at_end"`
	MaxDrawdown      float64 `json:"max_drawdown"` // 累计盈亏曲线的最大回撤(点数)
}

// Report 是一次回测的完整输出
type Report struct {
	Instrument string               `json:"instrument"`
	Start      time.Time            `json:"start"`
	End        time.Time            `json:"end"`
	Samples    int                  `json:"samples"`
	Signals    int                  `json:"signals"`
	Rejections map[string]int       `json:"rejections"`
	Results    []models.TradeResult `json:"results"`
	Open       *models.Position     `json:"open,omitempty"`
	Stats      Stats                `json:"stats"`
}

// Evaluator replays a historical series through the same scanner and
// lifecycle pipeline the live bot uses.
type Evaluator struct {
	cfg    *models.Config
	inst   models.Instrument
	logger *zap.Logger
}

// NewEvaluator creates an evaluator for one instrument.
func NewEvaluator(cfg *models.Config, inst models.Instrument, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{cfg: cfg, inst: inst, logger: logger}
}

// Run feeds series in time order. While no position is open each sample is
// scanned; once one is open samples drive the lifecycle until it closes.
// Every run starts from empty state.
func (e *Evaluator) Run(series []models.PriceSample) Report {
	samples := make([]models.PriceSample, 0, len(series))
	for _, s := range series {
		if s.Valid() {
			samples = append(samples, s)
		}
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	positions := store.NewMemoryStore()
	rejections := &rejectionCounter{counts: make(map[string]int)}
	recorder := notify.NewRecorder()
	sc := scanner.New(e.cfg.Scanner, e.cfg.Indicators, positions,
		scanner.WithLocation(e.cfg.Location()),
		scanner.WithObserver(rejections),
		scanner.WithLogger(e.logger))
	sm := statemanager.NewStateManager(e.inst, statemanager.Deps{
		Scanner:   sc,
		Positions: positions,
		Notifier:  recorder,
		Indicator: e.cfg.Indicators,
		Logger:    e.logger,
	})

	for _, s := range samples {
		if positions.Get(e.inst.Name) != nil {
			sm.Process(statemanager.NormalizedEvent{Type: statemanager.PriceTickEvent, Timestamp: s.Timestamp, Data: s})
		} else {
			sm.Process(statemanager.NormalizedEvent{
				Type:      statemanager.ScanEvent,
				Timestamp: s.Timestamp,
				Data:      statemanager.ScanEventData{Samples: []models.PriceSample{s}},
			})
		}
		if sm.Halted() {
			e.logger.Error("Backtest halted", zap.String("instrument", e.inst.Name), zap.Time("at", s.Timestamp))
			break
		}
	}

	report := Report{
		Instrument: e.inst.Name,
		Samples:    len(samples),
		Signals:    len(recorder.OfKind(models.NotifySignal)),
		Rejections: rejections.snapshot(),
		Results:    sm.Results(),
		Open:       positions.Get(e.inst.Name),
	}
	if len(samples) > 0 {
		report.Start = samples[0].Timestamp
		report.End = samples[len(samples)-1].Timestamp
	}
	report.Stats = Summarize(report.Results)
	if report.Open != nil {
		report.Stats.OpenAtEnd = 1
	}

	e.logger.Info("Backtest finished",
		zap.String("instrument", e.inst.Name),
		zap.Int("samples", report.Samples),
		zap.Int("signals", report.Signals),
		zap.Int("trades", report.Stats.TotalTrades),
		zap.Float64("win_rate", report.Stats.WinRate),
		zap.Float64("total_pnl", report.Stats.TotalPnL))
	return report
}

// Summarize aggregates closed trades. A trade wins when its P&L is positive.
func Summarize(results []models.TradeResult) Stats {
	st := Stats{TotalTrades: len(results)}
	if len(results) == 0 {
		return st
	}

	equity := make([]float64, 0, len(results)+1)
	equity = append(equity, 0)
	var calibration float64
	for _, r := range results {
		outcome := 0.0
		if r.Win() {
			st.Wins++
			outcome = 1
		} else {
			st.Losses++
		}
		switch r.CloseReason {
		case models.CloseReasonTarget:
			st.TargetHits++
		case models.CloseReasonStopLoss:
			st.StopLossHits++
		}
		if r.TargetsModified {
			st.TargetsModified++
		}
		st.TotalPnL += r.PnL
		equity = append(equity, st.TotalPnL)
		calibration += math.Abs(r.Confidence/100 - outcome)
	}

	n := float64(len(results))
	st.WinRate = float64(st.Wins) / n
	st.AvgPnL = st.TotalPnL / n
	st.CalibrationError = calibration / n
	st.MaxDrawdown = calculateMaxDrawdown(equity)
	return st
}

// calculateMaxDrawdown works in absolute points since the curve starts at zero.
func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if drawdown := peak - equity; drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

type rejectionCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *rejectionCounter) ObserveSignal(*models.Signal) {}

func (r *rejectionCounter) ObserveRejection(_, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[reason]++
}

func (r *rejectionCounter) snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}
