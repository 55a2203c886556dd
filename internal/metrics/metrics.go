package metrics

import (
	"index-options-callbot/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus metrics of the call engine. It observes the
// scanner and consumes notifications, so it can be wired both as a scanner
// observer and as a notification sink.
type Collector struct {
	Signals         *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	LifecycleEvents *prometheus.CounterVec
	Closed          *prometheus.CounterVec
	TradePnL        *prometheus.HistogramVec
	Confidence      *prometheus.HistogramVec
	OpenPositions   *prometheus.GaugeVec
	SourceErrors    *prometheus.CounterVec
	Halted          *prometheus.GaugeVec
}

// NewCollector creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callbot_signals_total",
				Help: "Accepted signals by instrument and direction",
			},
			[]string{"instrument", "direction"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callbot_rejections_total",
				Help: "Scanner evaluations that produced no signal, by gate",
			},
			[]string{"instrument", "reason"},
		),
		LifecycleEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callbot_lifecycle_events_total",
				Help: "Position lifecycle events by type",
			},
			[]string{"instrument", "event"},
		),
		Closed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callbot_positions_closed_total",
				Help: "Closed positions by close reason",
			},
			[]string{"instrument", "reason"},
		),
		TradePnL: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callbot_trade_pnl_points",
				Help:    "Realized P&L of closed positions in index points",
				Buckets: []float64{-200, -100, -60, -25, 0, 40, 80, 130, 280, 400},
			},
			[]string{"instrument"},
		),
		Confidence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callbot_signal_confidence",
				Help:    "Confidence of accepted signals",
				Buckets: []float64{60, 65, 70, 75, 80, 85, 90, 95, 100},
			},
			[]string{"instrument"},
		),
		OpenPositions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "callbot_open_positions",
				Help: "Open positions per instrument (0 or 1)",
			},
			[]string{"instrument"},
		),
		SourceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callbot_price_source_errors_total",
				Help: "Failed or skipped price source reads",
			},
			[]string{"instrument"},
		),
		Halted: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "callbot_instrument_halted",
				Help: "1 when an instrument stopped processing after an invariant violation",
			},
			[]string{"instrument"},
		),
	}

	if reg != nil {
		reg.MustRegister(c.Signals, c.Rejections, c.LifecycleEvents, c.Closed,
			c.TradePnL, c.Confidence, c.OpenPositions, c.SourceErrors, c.Halted)
	}
	return c
}

// ObserveSignal counts an accepted signal.
func (c *Collector) ObserveSignal(sig *models.Signal) {
	c.Signals.WithLabelValues(sig.Instrument, string(sig.Direction)).Inc()
	c.Confidence.WithLabelValues(sig.Instrument).Observe(sig.Confidence)
}

// ObserveRejection counts a rejected evaluation.
func (c *Collector) ObserveRejection(instrument, reason string) {
	c.Rejections.WithLabelValues(instrument, reason).Inc()
}

// ObserveSourceError counts a failed price read.
func (c *Collector) ObserveSourceError(instrument string) {
	c.SourceErrors.WithLabelValues(instrument).Inc()
}

// Publish updates position metrics from a notification.
func (c *Collector) Publish(n models.Notification) {
	switch n.Kind {
	case models.NotifySignal:
		c.OpenPositions.WithLabelValues(n.Instrument).Set(1)
	case models.NotifyLifecycle:
		if n.Event != nil {
			c.LifecycleEvents.WithLabelValues(n.Instrument, string(n.Event.Type)).Inc()
		}
	case models.NotifyClosed:
		c.OpenPositions.WithLabelValues(n.Instrument).Set(0)
		if r := n.Result; r != nil {
			c.Closed.WithLabelValues(n.Instrument, r.CloseReason.String()).Inc()
			c.TradePnL.WithLabelValues(n.Instrument).Observe(r.PnL)
		}
	case models.NotifyHalted:
		c.Halted.WithLabelValues(n.Instrument).Set(1)
	}
}
