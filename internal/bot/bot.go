package bot

import (
	"context"
	"errors"
	"fmt"
	"index-options-callbot/internal/feed"
	"index-options-callbot/internal/models"
	"index-options-callbot/internal/notify"
	"index-options-callbot/internal/persistence"
	"index-options-callbot/internal/scanner"
	"index-options-callbot/internal/statemanager"
	"index-options-callbot/internal/store"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Option configures a CallBot.
type Option func(*CallBot)

// WithObserver receives scanner outcomes, e.g. a metrics collector.
func WithObserver(o scanner.Observer) Option {
	return func(b *CallBot) { b.observer = o }
}

// WithClock overrides the wall clock used for status snapshots.
func WithClock(now func() time.Time) Option {
	return func(b *CallBot) { b.now = now }
}

// CallBot 驱动所有指数：定时扫描、定时监控持仓、定时输出状态
type CallBot struct {
	config    *models.Config
	source    feed.PriceSource
	repo      persistence.StateRepository
	notifier  notify.Notifier
	positions *store.MemoryStore
	observer  scanner.Observer
	managers  []*statemanager.StateManager
	byName    map[string]*statemanager.StateManager
	isRunning bool
	mutex     sync.RWMutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
	now       func() time.Time
	logger    *zap.Logger
}

// NewCallBot creates a bot with one state manager per configured instrument.
// repo and notifier may be nil.
func NewCallBot(config *models.Config, source feed.PriceSource, repo persistence.StateRepository, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *CallBot {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &CallBot{
		config:    config,
		source:    source,
		repo:      repo,
		notifier:  notifier,
		positions: store.NewMemoryStore(),
		byName:    make(map[string]*statemanager.StateManager),
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(b)
	}

	scanOpts := []scanner.Option{scanner.WithLocation(config.Location()), scanner.WithLogger(logger)}
	if b.observer != nil {
		scanOpts = append(scanOpts, scanner.WithObserver(b.observer))
	}
	sc := scanner.New(config.Scanner, config.Indicators, b.positions, scanOpts...)

	for _, inst := range config.Instruments {
		sm := statemanager.NewStateManager(inst, statemanager.Deps{
			Scanner:   sc,
			Positions: b.positions,
			Repo:      repo,
			Notifier:  notifier,
			Indicator: config.Indicators,
			Logger:    logger,
		})
		b.managers = append(b.managers, sm)
		b.byName[inst.Name] = sm
	}
	return b
}

// Manager returns the state manager for instrument, or nil.
func (b *CallBot) Manager(instrument string) *statemanager.StateManager {
	return b.byName[instrument]
}

// Positions returns the shared active-position store.
func (b *CallBot) Positions() store.PositionStore {
	return b.positions
}

// Start 恢复持久化状态并启动后台循环
func (b *CallBot) Start(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.isRunning {
		return fmt.Errorf("机器人已在运行")
	}

	for i, sm := range b.managers {
		if err := sm.Start(); err != nil {
			for _, started := range b.managers[:i] {
				started.Stop()
			}
			return fmt.Errorf("启动 %s 失败: %w", sm.Instrument().Name, err)
		}
	}

	b.isRunning = true
	b.stopChan = make(chan struct{})
	b.wg.Add(3)
	go b.loop(ctx, "scan", b.config.ScanIntervalSec, func(ctx context.Context) { b.ScanOnce(ctx) })
	go b.loop(ctx, "monitor", b.config.MonitorIntervalSec, func(ctx context.Context) { b.MonitorOnce(ctx) })
	go b.loop(ctx, "status", b.config.StatusIntervalSec, func(context.Context) { b.PublishStatus() })

	b.logger.Info("Call bot started", zap.Int("instruments", len(b.managers)))
	return nil
}

// Stop 停止后台循环，并为每个指数写入最终快照
func (b *CallBot) Stop() {
	b.mutex.Lock()
	if !b.isRunning {
		b.mutex.Unlock()
		return
	}
	b.isRunning = false
	close(b.stopChan)
	b.mutex.Unlock()

	b.wg.Wait()
	for _, sm := range b.managers {
		sm.Stop()
	}
	b.logger.Info("Call bot stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (b *CallBot) Running() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.isRunning
}

func (b *CallBot) loop(ctx context.Context, name string, intervalSec int, fn func(context.Context)) {
	defer b.wg.Done()
	if intervalSec <= 0 {
		intervalSec = 60
	}
	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ctx.Done():
			b.logger.Debug("Loop context done", zap.String("loop", name))
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// ScanOnce evaluates every flat, non-halted instrument in parallel and returns
// the number of instruments that opened a position.
func (b *CallBot) ScanOnce(ctx context.Context) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for _, sm := range b.managers {
		name := sm.Instrument().Name
		if sm.Halted() || b.positions.Get(name) != nil {
			continue
		}
		wg.Add(1)
		go func(sm *statemanager.StateManager, name string) {
			defer wg.Done()
			window, err := b.source.PriceWindow(ctx, name, b.config.Indicators.WindowCapacity)
			if err == nil && len(window) == 0 {
				err = feed.ErrNoData
			}
			if err != nil {
				b.logSourceError("scan", name, err)
				return
			}
			at := window[len(window)-1].Timestamp
			sm.Process(statemanager.NormalizedEvent{
				Type:      statemanager.ScanEvent,
				Timestamp: at,
				Data:      statemanager.ScanEventData{Samples: window},
			})
			if b.positions.Get(name) != nil {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}(sm, name)
	}
	wg.Wait()
	return opened
}

// MonitorOnce reads the latest price for every non-halted instrument and
// feeds it to its manager. Open positions advance through their lifecycle;
// flat instruments only extend their price window.
func (b *CallBot) MonitorOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sm := range b.managers {
		if sm.Halted() {
			continue
		}
		wg.Add(1)
		go func(sm *statemanager.StateManager) {
			defer wg.Done()
			name := sm.Instrument().Name
			sample, err := b.source.LatestPrice(ctx, name)
			if err != nil {
				b.logSourceError("monitor", name, err)
				return
			}
			sm.Process(statemanager.NormalizedEvent{Type: statemanager.PriceTickEvent, Timestamp: sample.Timestamp, Data: sample})
		}(sm)
	}
	wg.Wait()
}

// OnPrice queues a streamed price for asynchronous processing. Requires Start.
func (b *CallBot) OnPrice(instrument string, sample models.PriceSample) {
	sm := b.byName[instrument]
	if sm == nil {
		b.logger.Debug("Price for unknown instrument", zap.String("instrument", instrument))
		return
	}
	sm.DispatchEvent(statemanager.NormalizedEvent{Type: statemanager.PriceTickEvent, Timestamp: sample.Timestamp, Data: sample})
}

// PublishStatus builds a snapshot of open positions and today's call counts
// and sends it to the notifier.
func (b *CallBot) PublishStatus() models.StatusSnapshot {
	now := b.now()
	loc := b.config.Location()
	snap := models.StatusSnapshot{
		Timestamp:     now,
		Positions:     b.positions.Active(),
		UnrealizedPnL: make(map[string]float64),
		CallsToday:    make(map[string]int, len(b.managers)),
	}
	for _, pos := range snap.Positions {
		snap.UnrealizedPnL[pos.Instrument] = pos.UnrealizedPnL()
	}
	for _, sm := range b.managers {
		name := sm.Instrument().Name
		state := sm.GetStateSnapshot()
		snap.CallsToday[name] = scanner.NewCallHistory(state.CallHistory...).CountOn(now, loc)
		if state.Halted {
			snap.Halted = append(snap.Halted, name)
		}
	}
	if b.notifier != nil {
		b.notifier.Publish(models.Notification{Kind: models.NotifyStatus, Timestamp: now, Status: &snap})
	}
	return snap
}

// Results collects the closed trades of every instrument.
func (b *CallBot) Results() []models.TradeResult {
	var out []models.TradeResult
	for _, sm := range b.managers {
		out = append(out, sm.Results()...)
	}
	return out
}

func (b *CallBot) logSourceError(op, instrument string, err error) {
	switch {
	case errors.Is(err, feed.ErrNoData), errors.Is(err, feed.ErrExhausted), errors.Is(err, context.Canceled):
		b.logger.Debug("No price, skipping", zap.String("op", op), zap.String("instrument", instrument), zap.Error(err))
	default:
		b.logger.Warn("Price source error, skipping", zap.String("op", op), zap.String("instrument", instrument), zap.Error(err))
	}
}
