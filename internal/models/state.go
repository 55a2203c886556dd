package models

import "time"

// InstrumentState 定义了单个指数需要持久化的所有关键数据
type InstrumentState struct {
	Instrument  string      `json:"instrument"`   // 指数名称, e.g., "NIFTY"
	Version     int         `json:"version"`      // 状态模型的版本号，用于未来迁移
	Position    *Position   `json:"position"`     // 当前持仓，无持仓时为 nil
	CallHistory []time.Time `json:"call_history"` // 当日已发出信号的时间
	LastPrice   float64     `json:"last_price"`   // 最近一次观察到的价格
	Halted      bool        `json:"halted"`       // 发生不变量破坏后停止处理
	UpdatedAt   time.Time   `json:"updated_at"`   // 状态最后更新的时间戳
}

// StateVersion 当前状态模型版本
const StateVersion = 1

// Clone returns a deep copy of the state.
func (s *InstrumentState) Clone() *InstrumentState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Position = s.Position.Clone()
	if s.CallHistory != nil {
		cp.CallHistory = make([]time.Time, len(s.CallHistory))
		copy(cp.CallHistory, s.CallHistory)
	}
	return &cp
}

// LifecycleEventType 持仓生命周期事件类型
type LifecycleEventType string

const (
	Target1Achieved    LifecycleEventType = "TARGET1_ACHIEVED"
	Target2Achieved    LifecycleEventType = "TARGET2_ACHIEVED"
	AllTargetsAchieved LifecycleEventType = "ALL_TARGETS_ACHIEVED"
	StopLossHit        LifecycleEventType = "STOP_LOSS_HIT"
	TargetsModified    LifecycleEventType = "TARGETS_MODIFIED"
)

// LifecycleEvent 是一次价格更新产生的可观察事件
type LifecycleEvent struct {
	Type       LifecycleEventType `json:"type"`
	PositionID string             `json:"position_id"`
	Instrument string             `json:"instrument"`
	Price      float64            `json:"price"`
	Timestamp  time.Time          `json:"timestamp"`
	OldTargets *TargetLevels      `json:"old_targets,omitempty"` // 仅 TargetsModified
	NewTargets *TargetLevels      `json:"new_targets,omitempty"` // 仅 TargetsModified
}

// NotificationKind 对外通知的类别
type NotificationKind string

const (
	NotifySignal    NotificationKind = "SIGNAL"
	NotifyLifecycle NotificationKind = "LIFECYCLE"
	NotifyClosed    NotificationKind = "CLOSED"
	NotifyStatus    NotificationKind = "STATUS"
	NotifyHalted    NotificationKind = "HALTED"
)

// Notification 从核心流向外部的消息，核心不关心其投递方式
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	Instrument string           `json:"instrument"`
	Timestamp  time.Time        `json:"timestamp"`
	Signal     *Signal          `json:"signal,omitempty"`
	Event      *LifecycleEvent  `json:"event,omitempty"`
	Result     *TradeResult     `json:"result,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Status     *StatusSnapshot  `json:"status,omitempty"`
}

// StatusSnapshot 周期性状态快照，汇总所有指数的持仓
type StatusSnapshot struct {
	Timestamp     time.Time          `json:"timestamp"`
	Positions     []*Position        `json:"positions"`
	UnrealizedPnL map[string]float64 `json:"unrealized_pnl"` // 按指数汇总的浮动盈亏(点)
	CallsToday    map[string]int     `json:"calls_today"`
	Halted        []string           `json:"halted,omitempty"`
}
