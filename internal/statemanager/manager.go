package statemanager

import (
	"errors"
	"fmt"
	"index-options-callbot/internal/indicators"
	"index-options-callbot/internal/lifecycle"
	"index-options-callbot/internal/models"
	"index-options-callbot/internal/notify"
	"index-options-callbot/internal/persistence"
	"index-options-callbot/internal/scanner"
	"index-options-callbot/internal/store"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event
type EventType int

const (
	ScanEvent EventType = iota
	PriceTickEvent
	StateResetEvent
)

func (t EventType) String() string {
	switch t {
	case ScanEvent:
		return "scan"
	case PriceTickEvent:
		return "price_tick"
	case StateResetEvent:
		return "state_reset"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// ScanEventData carries samples to merge into the window before scanning.
type ScanEventData struct {
	Samples []models.PriceSample
}

// Deps bundles the collaborators shared by every instrument's manager.
type Deps struct {
	Scanner   *scanner.Scanner
	Positions store.PositionStore
	Repo      persistence.StateRepository
	Notifier  notify.Notifier
	Indicator models.IndicatorParams
	Logger    *zap.Logger
}

// StateManager owns one instrument. All mutations of the instrument's
// position, call history and price window happen inside processEvent, which
// runs serially.
type StateManager struct {
	inst      models.Instrument
	rules     lifecycle.Rules
	series    *indicators.Series
	history   *scanner.CallHistory
	scanner   *scanner.Scanner
	positions store.PositionStore
	repo      persistence.StateRepository
	notifier  notify.Notifier

	procMu    sync.Mutex
	mu        sync.RWMutex
	lastPrice float64
	updatedAt time.Time
	halted    bool
	results   []models.TradeResult

	eventChannel    chan NormalizedEvent
	persistenceChan chan *models.InstrumentState
	stopChan        chan struct{}
	started         bool
	wg              sync.WaitGroup
	stopOnce        sync.Once
	logger          *zap.Logger
}

// NewStateManager creates a manager for inst.
func NewStateManager(inst models.Instrument, deps Deps) *StateManager {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	positions := deps.Positions
	if positions == nil {
		positions = store.NewMemoryStore()
	}
	capacity := deps.Indicator.WindowCapacity
	if capacity <= 0 {
		capacity = 200
	}
	return &StateManager{
		inst:            inst,
		rules:           lifecycle.RulesFor(inst),
		series:          indicators.NewSeries(capacity),
		history:         scanner.NewCallHistory(),
		scanner:         deps.Scanner,
		positions:       positions,
		repo:            deps.Repo,
		notifier:        deps.Notifier,
		eventChannel:    make(chan NormalizedEvent, 1024), // Buffered channel
		persistenceChan: make(chan *models.InstrumentState, 128),
		stopChan:        make(chan struct{}),
		logger:          logger.With(zap.String("instrument", inst.Name)),
	}
}

// Instrument returns the managed instrument.
func (sm *StateManager) Instrument() models.Instrument {
	return sm.inst
}

// Start restores persisted state and begins the event processing and
// persistence loops.
func (sm *StateManager) Start() error {
	if sm.repo != nil {
		state, err := sm.repo.LoadState(sm.inst.Name)
		if err != nil {
			return fmt.Errorf("load state for %s: %w", sm.inst.Name, err)
		}
		if state != nil {
			sm.Process(NormalizedEvent{Type: StateResetEvent, Timestamp: time.Now(), Data: state})
		}
	}

	sm.procMu.Lock()
	sm.started = true
	sm.procMu.Unlock()

	sm.wg.Add(2)
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Info("StateManager started.")
	return nil
}

// Stop shuts down both loops and writes a final snapshot synchronously.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		sm.wg.Wait()
		if sm.repo != nil {
			if err := sm.repo.SaveState(sm.GetStateSnapshot()); err != nil {
				sm.logger.Error("Failed to save final state", zap.Error(err))
			}
		}
		sm.logger.Info("StateManager stopped.")
	})
}

// DispatchEvent queues an event for asynchronous processing. Events for one
// instrument are processed in dispatch order. Events sent after Stop are dropped.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	select {
	case sm.eventChannel <- event:
	case <-sm.stopChan:
		sm.logger.Debug("Dropping event after stop", zap.Stringer("type", event.Type))
	}
}

// Process handles an event synchronously. It is serialized with the event loop.
func (sm *StateManager) Process(event NormalizedEvent) {
	sm.procMu.Lock()
	defer sm.procMu.Unlock()
	sm.processEvent(event)
}

// Halted reports whether an invariant violation stopped this instrument.
func (sm *StateManager) Halted() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.halted
}

// Results returns the trades closed by this manager since start.
func (sm *StateManager) Results() []models.TradeResult {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return append([]models.TradeResult(nil), sm.results...)
}

// GetStateSnapshot returns a deep copy of the current state for safe, concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.InstrumentState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return &models.InstrumentState{
		Instrument:  sm.inst.Name,
		Version:     models.StateVersion,
		Position:    sm.positions.Get(sm.inst.Name),
		CallHistory: sm.history.Times(),
		LastPrice:   sm.lastPrice,
		Halted:      sm.halted,
		UpdatedAt:   sm.updatedAt,
	}
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()
	for {
		select {
		case event := <-sm.eventChannel:
			sm.Process(event)
		case <-sm.stopChan:
			return
		}
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for {
		select {
		case stateToSave := <-sm.persistenceChan:
			sm.save(stateToSave)
		case <-sm.stopChan:
			return
		}
	}
}

func (sm *StateManager) save(state *models.InstrumentState) {
	if sm.repo == nil {
		return
	}
	if err := sm.repo.SaveState(state); err != nil {
		sm.logger.Error("CRITICAL: Failed to save state", zap.Error(err))
	}
}

// processEvent contains the logic to mutate the state based on an event.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	if sm.Halted() && event.Type != StateResetEvent {
		sm.logger.Warn("Instrument halted, dropping event", zap.Stringer("type", event.Type))
		return
	}

	switch event.Type {
	case ScanEvent:
		data, ok := event.Data.(ScanEventData)
		if !ok && event.Data != nil {
			sm.logger.Warn("Received ScanEvent with unexpected data type", zap.String("type", fmt.Sprintf("%T", event.Data)))
			return
		}
		for _, sample := range data.Samples {
			sm.observe(sample)
		}
		sm.scan(event.Timestamp)
	case PriceTickEvent:
		sample, ok := event.Data.(models.PriceSample)
		if !ok {
			sm.logger.Warn("Received PriceTickEvent with unexpected data type", zap.String("type", fmt.Sprintf("%T", event.Data)))
			return
		}
		if !sample.Valid() {
			sm.logger.Debug("Skipping invalid price tick", zap.Float64("price", sample.Price))
			return
		}
		sm.observe(sample)
		sm.tick(sample)
	case StateResetEvent:
		state, ok := event.Data.(*models.InstrumentState)
		if !ok {
			sm.logger.Warn("Received StateResetEvent with unexpected data type", zap.String("type", fmt.Sprintf("%T", event.Data)))
			return
		}
		sm.reset(state)
	}

	sm.mu.Lock()
	sm.updatedAt = event.Timestamp
	sm.mu.Unlock()

	// After processing, send a deep copy of the new state to the persistence channel.
	if sm.started {
		select {
		case sm.persistenceChan <- sm.GetStateSnapshot():
		default:
			sm.logger.Warn("Persistence queue full, snapshot skipped")
		}
	}
}

func (sm *StateManager) observe(sample models.PriceSample) {
	if sm.series.Append(sample) {
		sm.mu.Lock()
		sm.lastPrice = sample.Price
		sm.mu.Unlock()
	}
}

func (sm *StateManager) scan(at time.Time) {
	if sm.scanner == nil {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	// 信号被接受时扫描器会记录本次调用，仅在持仓成功打开后才提交
	pending := scanner.NewCallHistory(sm.history.Times()...)
	sig, rej := sm.scanner.Evaluate(sm.inst, sm.series, pending, at)
	if !rej.Ok() {
		return
	}

	targets, err := lifecycle.BuildTargets(sig.Price, sig.Direction, sm.inst.Targets, sm.inst.TickSize)
	if err != nil {
		sm.logger.Error("Cannot build targets for accepted signal", zap.Error(err))
		return
	}
	pos := lifecycle.Open(sig, targets)

	err = sm.positions.WithLock(sm.inst.Name, func(current *models.Position) (*models.Position, error) {
		if current != nil {
			return nil, fmt.Errorf("%w: %s already open while opening %s", models.ErrInvariantViolation, current.ID, pos.ID)
		}
		return pos, nil
	})
	if err != nil {
		sm.halt(err)
		return
	}
	sm.mu.Lock()
	sm.history = pending
	sm.mu.Unlock()

	sm.logger.Info("Signal accepted",
		zap.String("position", pos.ID),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("price", sig.Price),
		zap.Float64("confidence", sig.Confidence),
		zap.Stringer("targets", targets))
	sm.publish(models.Notification{Kind: models.NotifySignal, Instrument: sm.inst.Name, Timestamp: at, Signal: sig})
}

func (sm *StateManager) tick(sample models.PriceSample) {
	pos := sm.positions.Get(sm.inst.Name)
	if pos == nil {
		return
	}

	out := lifecycle.Tick(pos, sample.Price, sample.Timestamp, sm.rules)
	for i := range out.Events {
		ev := out.Events[i]
		sm.publish(models.Notification{Kind: models.NotifyLifecycle, Instrument: sm.inst.Name, Timestamp: ev.Timestamp, Event: &ev})
	}

	if !out.Closed() {
		if err := sm.positions.Update(out.Position); err != nil {
			sm.halt(err)
		}
		return
	}

	if _, err := sm.positions.Close(sm.inst.Name, pos.ID); err != nil {
		sm.halt(err)
		return
	}
	result := *out.Result
	sm.mu.Lock()
	sm.results = append(sm.results, result)
	sm.mu.Unlock()

	sm.logger.Info("Position closed",
		zap.String("position", result.PositionID),
		zap.Stringer("reason", result.CloseReason),
		zap.Float64("pnl", result.PnL))
	if sm.repo != nil {
		if err := sm.repo.AppendResult(&result); err != nil {
			sm.logger.Error("Failed to persist trade result", zap.Error(err))
		}
	}
	sm.publish(models.Notification{Kind: models.NotifyClosed, Instrument: sm.inst.Name, Timestamp: sample.Timestamp, Result: &result})
}

// reset replaces the instrument's state wholesale. A persisted halt is
// cleared; restarting is the recovery path.
func (sm *StateManager) reset(state *models.InstrumentState) {
	if state.Instrument != "" && state.Instrument != sm.inst.Name {
		sm.logger.Warn("Ignoring state of another instrument", zap.String("state_instrument", state.Instrument))
		return
	}
	if state.Halted {
		sm.logger.Warn("Restored state was halted, resuming")
	}

	if cur := sm.positions.Get(sm.inst.Name); cur != nil {
		if _, err := sm.positions.Close(sm.inst.Name, cur.ID); err != nil {
			sm.halt(err)
			return
		}
	}
	if state.Position != nil && state.Position.Status == models.Open {
		if err := sm.positions.TryOpen(state.Position); err != nil {
			sm.halt(err)
			return
		}
	}

	sm.mu.Lock()
	sm.history = scanner.NewCallHistory(state.CallHistory...)
	sm.lastPrice = state.LastPrice
	sm.halted = false
	sm.mu.Unlock()
	sm.logger.Info("State has been reset.", zap.Bool("open_position", state.Position != nil), zap.Int("calls", len(state.CallHistory)))
}

// halt stops processing for this instrument only.
func (sm *StateManager) halt(err error) {
	sm.mu.Lock()
	sm.halted = true
	sm.mu.Unlock()

	if errors.Is(err, models.ErrInvariantViolation) {
		sm.logger.DPanic("Invariant violation, halting instrument", zap.Error(err))
	} else {
		sm.logger.Error("Halting instrument", zap.Error(err))
	}
	sm.publish(models.Notification{Kind: models.NotifyHalted, Instrument: sm.inst.Name, Timestamp: time.Now(), Reason: err.Error()})
}

func (sm *StateManager) publish(n models.Notification) {
	if sm.notifier != nil {
		sm.notifier.Publish(n)
	}
}
