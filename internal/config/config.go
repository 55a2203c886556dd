package config

import (
	"encoding/json"
	"fmt"
	"index-options-callbot/internal/models"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 环境变量覆盖项
const (
	EnvLogLevel = "CALLBOT_LOG_LEVEL"
	EnvDBPath   = "CALLBOT_DB_PATH"
	EnvTimezone = "CALLBOT_TIMEZONE"
)

// LoadConfig 从指定路径加载JSON或YAML配置文件并解析到Config结构体中
// 解析后依次应用默认值、环境变量覆盖和校验
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := &models.Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("decode yaml config %s: %w", path, err)
		}
	default:
		decoder := json.NewDecoder(file)
		if err := decoder.Decode(config); err != nil {
			return nil, fmt.Errorf("decode json config %s: %w", path, err)
		}
	}

	ApplyDefaults(config)
	ApplyEnv(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadEnv 加载 .env 文件 (如果存在)，返回是否成功加载
func LoadEnv(files ...string) bool {
	return godotenv.Load(files...) == nil
}

// Default 返回一份完整的默认配置
func Default() *models.Config {
	cfg := &models.Config{Instruments: DefaultInstruments()}
	ApplyDefaults(cfg)
	return cfg
}

// DefaultInstruments 返回四个主要指数的默认配置
func DefaultInstruments() []models.Instrument {
	base := func(name string, step float64, t models.TargetDistances) models.Instrument {
		return models.Instrument{
			Name:                 name,
			TickSize:             0.05,
			StrikeStep:           step,
			MinMovementPct:       0.2,
			CooldownHours:        4,
			DailyCap:             2,
			ConfidenceThreshold:  75,
			Targets:              t,
			RiskFreeRate:         0.065,
			DefaultVolatility:    0.15,
			ExpiryWeekday:        "thursday",
			MomentumExtensionPct: 2.0,
			ExtensionFraction:    0.3,
		}
	}
	return []models.Instrument{
		base("NIFTY", 50, models.TargetDistances{Target1: 40, Target2: 80, Target3: 130, StopLoss: 25}),
		base("BANKNIFTY", 100, models.TargetDistances{Target1: 80, Target2: 160, Target3: 280, StopLoss: 60}),
		base("FINNIFTY", 50, models.TargetDistances{Target1: 30, Target2: 60, Target3: 100, StopLoss: 25}),
		base("SENSEX", 100, models.TargetDistances{Target1: 120, Target2: 240, Target3: 400, StopLoss: 100}),
	}
}

// ApplyDefaults 为未设置的字段填充默认值
func ApplyDefaults(cfg *models.Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Kolkata"
	}
	if cfg.ScanIntervalSec <= 0 {
		cfg.ScanIntervalSec = 600
	}
	if cfg.MonitorIntervalSec <= 0 {
		cfg.MonitorIntervalSec = 60
	}
	if cfg.StatusIntervalSec <= 0 {
		cfg.StatusIntervalSec = 1800
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}

	src := &cfg.Source
	if src.RequestsPerSecond <= 0 {
		src.RequestsPerSecond = 5
	}
	if src.Burst <= 0 {
		src.Burst = 5
	}
	if src.BreakerMaxFailures <= 0 {
		src.BreakerMaxFailures = 5
	}
	if src.BreakerTimeoutSec <= 0 {
		src.BreakerTimeoutSec = 30
	}

	ind := &cfg.Indicators
	setInt(&ind.RSIPeriod, 14)
	setInt(&ind.EMAFast, 20)
	setInt(&ind.EMASlow, 50)
	setInt(&ind.MomentumLookback, 10)
	setInt(&ind.VolatilityWindow, 20)
	setInt(&ind.WindowCapacity, 200)
	setFloat(&ind.VolatilityFloor, 0.02)

	sc := &cfg.Scanner
	setFloat(&sc.MinVolatility, 0.0005)
	setFloat(&sc.MaxVolatility, 0.01)
	if sc.BullishRSI == (models.Band{}) {
		sc.BullishRSI = models.Band{Min: 45, Max: 65}
	}
	if sc.BearishRSI == (models.Band{}) {
		sc.BearishRSI = models.Band{Min: 35, Max: 55}
	}
	if sc.Weights == (models.ConfidenceWeights{}) {
		sc.Weights = models.ConfidenceWeights{RSI: 0.2, Trend: 0.35, Momentum: 0.3, Volatility: 0.15}
	}
	setFloat(&sc.MomentumFullScalePct, 1.0)

	if len(cfg.Instruments) == 0 {
		cfg.Instruments = DefaultInstruments()
	}
	for i := range cfg.Instruments {
		inst := &cfg.Instruments[i]
		inst.Name = strings.ToUpper(strings.TrimSpace(inst.Name))
		setFloat(&inst.TickSize, 0.05)
		setFloat(&inst.CooldownHours, 4)
		setInt(&inst.DailyCap, 2)
		setFloat(&inst.ConfidenceThreshold, 75)
		setFloat(&inst.RiskFreeRate, 0.065)
		setFloat(&inst.DefaultVolatility, 0.15)
		setFloat(&inst.MomentumExtensionPct, 2.0)
		setFloat(&inst.ExtensionFraction, 0.3)
		if inst.ExpiryWeekday == "" {
			inst.ExpiryWeekday = "thursday"
		}
	}
}

// ApplyEnv 应用环境变量覆盖
func ApplyEnv(cfg *models.Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogConfig.Level = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvTimezone); v != "" {
		cfg.Timezone = v
	}
}

// Validate 检查配置的一致性
func Validate(cfg *models.Config) error {
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	ind := cfg.Indicators
	if ind.RSIPeriod < 1 || ind.EMAFast < 1 || ind.MomentumLookback < 1 || ind.VolatilityWindow < 2 {
		return fmt.Errorf("indicator periods must be positive: %+v", ind)
	}
	if ind.EMAFast >= ind.EMASlow {
		return fmt.Errorf("ema_fast (%d) must be smaller than ema_slow (%d)", ind.EMAFast, ind.EMASlow)
	}
	if cfg.Scanner.MinVolatility >= cfg.Scanner.MaxVolatility {
		return fmt.Errorf("min_volatility (%.6f) must be smaller than max_volatility (%.6f)",
			cfg.Scanner.MinVolatility, cfg.Scanner.MaxVolatility)
	}

	seen := make(map[string]bool, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		if inst.Name == "" {
			return fmt.Errorf("instrument with empty name")
		}
		if seen[inst.Name] {
			return fmt.Errorf("duplicate instrument %s", inst.Name)
		}
		seen[inst.Name] = true

		if inst.TickSize <= 0 || inst.StrikeStep <= 0 {
			return fmt.Errorf("%s: tick_size and strike_step must be positive", inst.Name)
		}
		if err := ValidateTargets(inst.Targets); err != nil {
			return fmt.Errorf("%s: %w", inst.Name, err)
		}
		if inst.DailyCap < 1 {
			return fmt.Errorf("%s: daily_cap must be at least 1", inst.Name)
		}
		if inst.ConfidenceThreshold < 0 || inst.ConfidenceThreshold > 100 {
			return fmt.Errorf("%s: confidence_threshold %.2f outside [0,100]", inst.Name, inst.ConfidenceThreshold)
		}
	}
	return nil
}

// ValidateTargets 目标距离必须严格递增且止损距离为正
func ValidateTargets(t models.TargetDistances) error {
	if t.Target1 <= 0 || t.Target2 <= t.Target1 || t.Target3 <= t.Target2 {
		return fmt.Errorf("%w: targets %.2f/%.2f/%.2f must be positive and strictly increasing",
			models.ErrInvalidTargets, t.Target1, t.Target2, t.Target3)
	}
	if t.StopLoss <= 0 {
		return fmt.Errorf("%w: stop_loss %.2f must be positive", models.ErrInvalidTargets, t.StopLoss)
	}
	return nil
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}
