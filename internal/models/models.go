package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config 定义了整个信号引擎的静态配置，加载后不可变
type Config struct {
	LogConfig          LogConfig       `json:"log" yaml:"log"`                                   // 日志配置
	DBPath             string          `json:"db_path" yaml:"db_path"`                           // badger 数据目录，为空时使用内存模式
	Timezone           string          `json:"timezone" yaml:"timezone"`                         // 交易日划分所用时区
	ScanIntervalSec    int             `json:"scan_interval_sec" yaml:"scan_interval_sec"`       // 扫描周期(秒)
	MonitorIntervalSec int             `json:"monitor_interval_sec" yaml:"monitor_interval_sec"` // 持仓监控周期(秒)
	StatusIntervalSec  int             `json:"status_interval_sec" yaml:"status_interval_sec"`   // 状态快照周期(秒)
	Source             SourceConfig    `json:"source" yaml:"source"`                             // 行情源保护参数
	Indicators         IndicatorParams `json:"indicators" yaml:"indicators"`                     // 指标窗口参数
	Scanner            ScannerParams   `json:"scanner" yaml:"scanner"`                           // 置信度与方向判定参数
	Instruments        []Instrument    `json:"instruments" yaml:"instruments"`                   // 每个指数的独立配置
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	Format     string `json:"format" yaml:"format"`           // 编码: "console" 或 "json"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}

// SourceConfig guards calls into the external price source.
type SourceConfig struct {
	RequestsPerSecond  float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst              int     `json:"burst" yaml:"burst"`
	BreakerMaxFailures int     `json:"breaker_max_failures" yaml:"breaker_max_failures"`
	BreakerTimeoutSec  int     `json:"breaker_timeout_sec" yaml:"breaker_timeout_sec"`
}

// IndicatorParams 指标计算窗口
type IndicatorParams struct {
	RSIPeriod        int     `json:"rsi_period" yaml:"rsi_period"`
	EMAFast          int     `json:"ema_fast" yaml:"ema_fast"`
	EMASlow          int     `json:"ema_slow" yaml:"ema_slow"`
	MomentumLookback int     `json:"momentum_lookback" yaml:"momentum_lookback"` // 动量回看的tick数
	VolatilityWindow int     `json:"volatility_window" yaml:"volatility_window"`
	VolatilityFloor  float64 `json:"volatility_floor" yaml:"volatility_floor"` // 数据不足时返回的波动率
	WindowCapacity   int     `json:"window_capacity" yaml:"window_capacity"`   // 滚动窗口容量，溢出时淘汰最旧样本
}

// Band is an inclusive [Min, Max] range.
type Band struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies inside the band, bounds included.
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// ConfidenceWeights 各分量在综合置信度中的权重，合计应为1
type ConfidenceWeights struct {
	RSI        float64 `json:"rsi" yaml:"rsi"`
	Trend      float64 `json:"trend" yaml:"trend"`
	Momentum   float64 `json:"momentum" yaml:"momentum"`
	Volatility float64 `json:"volatility" yaml:"volatility"`
}

// ScannerParams 决定方向与置信度的共享参数
type ScannerParams struct {
	MinVolatility        float64           `json:"min_volatility" yaml:"min_volatility"`
	MaxVolatility        float64           `json:"max_volatility" yaml:"max_volatility"`
	BullishRSI           Band              `json:"bullish_rsi" yaml:"bullish_rsi"`
	BearishRSI           Band              `json:"bearish_rsi" yaml:"bearish_rsi"`
	Weights              ConfidenceWeights `json:"weights" yaml:"weights"`
	MomentumFullScalePct float64           `json:"momentum_full_scale_pct" yaml:"momentum_full_scale_pct"` // 动量分量满分对应的百分比
}

// TargetDistances 目标与止损距离入场价的点数
type TargetDistances struct {
	Target1  float64 `json:"target1" yaml:"target1"`
	Target2  float64 `json:"target2" yaml:"target2"`
	Target3  float64 `json:"target3" yaml:"target3"`
	StopLoss float64 `json:"stop_loss" yaml:"stop_loss"`
}

// Instrument 是单个指数（segment）的不可变配置
type Instrument struct {
	Name                 string          `json:"name" yaml:"name"`                                     // e.g., "NIFTY"
	TickSize             float64         `json:"tick_size" yaml:"tick_size"`                           // 价格最小变动单位
	StrikeStep           float64         `json:"strike_step" yaml:"strike_step"`                       // 行权价间隔
	MinMovementPct       float64         `json:"min_movement_pct" yaml:"min_movement_pct"`             // 判定方向所需的最小动量(%)
	CooldownHours        float64         `json:"cooldown_hours" yaml:"cooldown_hours"`                 // 两次信号之间的最短间隔
	DailyCap             int             `json:"daily_cap" yaml:"daily_cap"`                           // 每个交易日的最大信号数
	ConfidenceThreshold  float64         `json:"confidence_threshold" yaml:"confidence_threshold"`     // 0-100
	Targets              TargetDistances `json:"targets" yaml:"targets"`                               // 目标距离表
	RiskFreeRate         float64         `json:"risk_free_rate" yaml:"risk_free_rate"`                 // 年化无风险利率
	DefaultVolatility    float64         `json:"default_volatility" yaml:"default_volatility"`         // 定价使用的年化波动率
	ExpiryWeekday        string          `json:"expiry_weekday" yaml:"expiry_weekday"`                 // 周度到期日, e.g., "thursday"
	MomentumExtensionPct float64         `json:"momentum_extension_pct" yaml:"momentum_extension_pct"` // 触发目标上调的有利偏移(%)
	ExtensionFraction    float64         `json:"extension_fraction" yaml:"extension_fraction"`         // 目标外移占偏移量的比例
}

// Cooldown returns the configured cooldown as a duration.
func (i Instrument) Cooldown() time.Duration {
	return time.Duration(i.CooldownHours * float64(time.Hour))
}

// Weekday parses ExpiryWeekday, defaulting to Thursday.
func (i Instrument) Weekday() time.Weekday {
	switch strings.ToLower(strings.TrimSpace(i.ExpiryWeekday)) {
	case "monday":
		return time.Monday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "friday":
		return time.Friday
	default:
		return time.Thursday
	}
}

// Location resolves the configured timezone; unknown names fall back to UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Instrument looks up an instrument by name.
func (c *Config) Instrument(name string) (Instrument, error) {
	for _, inst := range c.Instruments {
		if strings.EqualFold(inst.Name, name) {
			return inst, nil
		}
	}
	return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
}

// PriceSample 是行情源或历史序列中的一个价格点，核心只读不写
type PriceSample struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume,omitempty"`
}

// Valid reports whether the sample carries a usable price.
func (s PriceSample) Valid() bool {
	return ValidPrice(s.Price) && !s.Timestamp.IsZero()
}

// ValidPrice reports whether p is a finite, positive price.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// IndicatorSnapshot 是某一时刻由价格窗口算出的指标值，每次评估重新计算
type IndicatorSnapshot struct {
	Price      float64 `json:"price"`
	RSI        float64 `json:"rsi"`
	EMAFast    float64 `json:"ema_fast"`
	EMASlow    float64 `json:"ema_slow"`
	Momentum   float64 `json:"momentum"`   // 百分比
	Volatility float64 `json:"volatility"` // 简单收益率标准差
	Samples    int     `json:"samples"`
	Warm       bool    `json:"warm"` // 窗口长度是否足够计算全部指标
}

// Direction 交易方向
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign is +1 for Long and -1 for Short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// OptionType 期权类型
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// OptionFor maps a direction onto the option bought to express it.
func OptionFor(d Direction) OptionType {
	if d == Short {
		return Put
	}
	return Call
}

// OptionQuote 由定价模块按需计算，创建后不再修改
type OptionQuote struct {
	Spot              float64    `json:"spot"`
	Strike            float64    `json:"strike"`
	OptionType        OptionType `json:"option_type"`
	TimeToExpiryYears float64    `json:"time_to_expiry_years"`
	ImpliedVol        float64    `json:"implied_vol"`
	RiskFreeRate      float64    `json:"risk_free_rate"`
	Premium           float64    `json:"premium"`
	Delta             float64    `json:"delta"`
	Gamma             float64    `json:"gamma"`
	Theta             float64    `json:"theta"` // per calendar day
	Vega              float64    `json:"vega"`  // per volatility point
	Rho               float64    `json:"rho"`   // per rate point
	Expiry            time.Time  `json:"expiry,omitempty"`
}

// Signal 由扫描器产生，通过全部闸门后立即转换为持仓
type Signal struct {
	Instrument string            `json:"instrument"`
	Direction  Direction         `json:"direction"`
	Confidence float64           `json:"confidence"` // 0-100
	Price      float64           `json:"price"`
	Timestamp  time.Time         `json:"timestamp"`
	Rationale  string            `json:"rationale"`
	Indicators IndicatorSnapshot `json:"indicators"`
	Quote      *OptionQuote      `json:"quote,omitempty"`
}

// TargetLevels 四个方向相关的价格水平，只能整体替换
type TargetLevels struct {
	Target1  float64 `json:"target1"`
	Target2  float64 `json:"target2"`
	Target3  float64 `json:"target3"`
	StopLoss float64 `json:"stop_loss"`
}

func (t TargetLevels) String() string {
	return fmt.Sprintf("T1=%.2f T2=%.2f T3=%.2f SL=%.2f", t.Target1, t.Target2, t.Target3, t.StopLoss)
}

// PositionStatus 持仓状态
type PositionStatus string

const (
	Open             PositionStatus = "OPEN"
	ClosedOnTarget   PositionStatus = "CLOSED_ON_TARGET"
	ClosedOnStopLoss PositionStatus = "CLOSED_ON_STOP_LOSS"
)

// Closed reports whether the status is terminal.
func (s PositionStatus) Closed() bool {
	return s == ClosedOnTarget || s == ClosedOnStopLoss
}

// CloseReason records why a position left the active set.
type CloseReason int

const (
	CloseReasonNone CloseReason = iota
	CloseReasonTarget
	CloseReasonStopLoss
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonTarget:
		return string(ClosedOnTarget)
	case CloseReasonStopLoss:
		return string(ClosedOnStopLoss)
	default:
		return "NONE"
	}
}

// MarshalText makes CloseReason serialize as its status name.
func (r CloseReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses the status name written by MarshalText.
func (r *CloseReason) UnmarshalText(text []byte) error {
	switch string(text) {
	case string(ClosedOnTarget):
		*r = CloseReasonTarget
	case string(ClosedOnStopLoss):
		*r = CloseReasonStopLoss
	case "NONE", "":
		*r = CloseReasonNone
	default:
		return fmt.Errorf("unknown close reason %q", text)
	}
	return nil
}

// Position 是系统的核心可变实体，每个指数同一时刻至多一个 Open
type Position struct {
	ID              string         `json:"id"`
	Instrument      string         `json:"instrument"`
	Direction       Direction      `json:"direction"`
	EntryPrice      float64        `json:"entry_price"`
	EntryTimestamp  time.Time      `json:"entry_timestamp"`
	Confidence      float64        `json:"confidence"`
	Targets         TargetLevels   `json:"targets"`
	OriginalTargets TargetLevels   `json:"original_targets"`
	Target1Achieved bool           `json:"target1_achieved"`
	Target2Achieved bool           `json:"target2_achieved"`
	TargetsModified bool           `json:"targets_modified"`
	Status          PositionStatus `json:"status"`
	EntryQuote      *OptionQuote   `json:"entry_quote,omitempty"`
	LastPrice       float64        `json:"last_price"`
	LastUpdate      time.Time      `json:"last_update"`
}

// Clone returns a copy that shares no mutable memory with p.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	if p.EntryQuote != nil {
		q := *p.EntryQuote
		cp.EntryQuote = &q
	}
	return &cp
}

// UnrealizedPnL is the favourable excursion in points at the last seen price.
func (p *Position) UnrealizedPnL() float64 {
	if p.LastPrice == 0 {
		return 0
	}
	return (p.LastPrice - p.EntryPrice) * p.Direction.Sign()
}

// TradeResult 在持仓关闭时创建，之后不可修改
type TradeResult struct {
	PositionID      string        `json:"position_id"`
	Instrument      string        `json:"instrument"`
	Direction       Direction     `json:"direction"`
	EntryPrice      float64       `json:"entry_price"`
	ExitPrice       float64       `json:"exit_price"`
	PnL             float64       `json:"pnl"`
	CloseReason     CloseReason   `json:"close_reason"`
	Confidence      float64       `json:"confidence"`
	TargetsModified bool          `json:"targets_modified"`
	EntryTime       time.Time     `json:"entry_time"`
	ExitTime        time.Time     `json:"exit_time"`
	Duration        time.Duration `json:"duration"`
	EntryPremium    float64       `json:"entry_premium,omitempty"`
}

// Win reports whether the trade closed with a positive P&L.
func (r TradeResult) Win() bool {
	return r.PnL > 0
}
