package notify

import (
	"index-options-callbot/internal/models"
	"sync"

	"go.uber.org/zap"
)

// Notifier receives notifications from the core. Delivery is fire-and-forget.
type Notifier interface {
	Publish(n models.Notification)
}

// LogNotifier writes every notification to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs to logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Publish(n models.Notification) {
	fields := []zap.Field{zap.String("instrument", n.Instrument), zap.Time("at", n.Timestamp)}
	switch n.Kind {
	case models.NotifySignal:
		if s := n.Signal; s != nil {
			fields = append(fields,
				zap.String("direction", string(s.Direction)),
				zap.Float64("price", s.Price),
				zap.Float64("confidence", s.Confidence),
				zap.String("rationale", s.Rationale))
			if q := s.Quote; q != nil {
				fields = append(fields,
					zap.Float64("strike", q.Strike),
					zap.String("option", string(q.OptionType)),
					zap.Float64("premium", q.Premium),
					zap.Float64("delta", q.Delta))
			}
		}
		l.logger.Info("New call", fields...)
	case models.NotifyLifecycle:
		if e := n.Event; e != nil {
			fields = append(fields, zap.String("event", string(e.Type)), zap.Float64("price", e.Price))
			if e.NewTargets != nil {
				fields = append(fields, zap.Stringer("old_targets", e.OldTargets), zap.Stringer("new_targets", e.NewTargets))
			}
		}
		l.logger.Info("Position update", fields...)
	case models.NotifyClosed:
		if r := n.Result; r != nil {
			fields = append(fields,
				zap.String("position", r.PositionID),
				zap.Stringer("reason", r.CloseReason),
				zap.Float64("exit", r.ExitPrice),
				zap.Float64("pnl", r.PnL),
				zap.Duration("held", r.Duration))
		}
		l.logger.Info("Position closed", fields...)
	case models.NotifyHalted:
		l.logger.Error("Instrument halted", append(fields, zap.String("reason", n.Reason))...)
	case models.NotifyStatus:
		if st := n.Status; st != nil {
			fields = append(fields, zap.Int("open_positions", len(st.Positions)), zap.Any("unrealized_pnl", st.UnrealizedPnL), zap.Any("calls_today", st.CallsToday))
		}
		l.logger.Info("Status", fields...)
	default:
		l.logger.Debug("Notification", append(fields, zap.String("kind", string(n.Kind)), zap.String("reason", n.Reason))...)
	}
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []models.Notification
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.items...)
}

// OfKind returns recorded notifications of one kind.
func (r *Recorder) OfKind(kind models.NotificationKind) []models.Notification {
	var out []models.Notification
	for _, n := range r.All() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// multi fans a notification out to several notifiers.
type multi []Notifier

// Multi combines notifiers; nil entries are skipped.
func Multi(notifiers ...Notifier) Notifier {
	var m multi
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

func (m multi) Publish(n models.Notification) {
	for _, target := range m {
		target.Publish(n)
	}
}

// Async delivers notifications on a background goroutine through a
// bounded queue. When the queue is full the notification is dropped.
type Async struct {
	next   Notifier
	queue  chan models.Notification
	done   chan struct{}
	logger *zap.Logger
	once   sync.Once
}

// NewAsync starts a background deliverer in front of next.
func NewAsync(next Notifier, size int, logger *zap.Logger) *Async {
	a := &Async{
		next:   next,
		queue:  make(chan models.Notification, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer close(a.done)
	for n := range a.queue {
		a.next.Publish(n)
	}
}

func (a *Async) Publish(n models.Notification) {
	select {
	case a.queue <- n:
	default:
		a.logger.Warn("Notification queue full, dropping", zap.String("kind", string(n.Kind)), zap.String("instrument", n.Instrument))
	}
}

// Close drains the queue and stops the deliverer. Publish must not be
// called after Close.
func (a *Async) Close() {
	a.once.Do(func() { close(a.queue) })
	<-a.done
}
