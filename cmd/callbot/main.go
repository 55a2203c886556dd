package main

import (
	"context"
	"fmt"
	"index-options-callbot/internal/backtest"
	"index-options-callbot/internal/bot"
	"index-options-callbot/internal/config"
	"index-options-callbot/internal/feed"
	"index-options-callbot/internal/logger"
	"index-options-callbot/internal/metrics"
	"index-options-callbot/internal/models"
	"index-options-callbot/internal/notify"
	"index-options-callbot/internal/persistence"
	"index-options-callbot/internal/reporter"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "callbot",
	Short: "Index options call engine",
	Long: `callbot scans index futures prices for directional setups, prices the ATM
option with Black-Scholes and tracks each call through its targets and stop-loss.`,
	SilenceUsage: true,
}

var (
	backtestData       string
	backtestInstrument string
	backtestFormat     string
	backtestOut        string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay a historical price series through the call pipeline",
	Long: `Replay a CSV of timestamp,price[,volume] rows through the scanner and the
position lifecycle and report win rate, P&L and confidence calibration.

Example usage:
  callbot backtest --data data/NIFTY.csv
  callbot backtest --data data/bank.csv --instrument BANKNIFTY --format json`,
	RunE: runBacktest,
}

var (
	paperData        []string
	paperWarmup      int
	paperMetricsAddr string
)

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Run the live loops against replayed prices",
	Long: `Run the scan, monitor and status loops at the configured intervals against
replayed series, persisting state to db_path and exposing prometheus metrics.

Example usage:
  callbot paper --data NIFTY=data/NIFTY.csv --data SENSEX=data/SENSEX.csv`,
	RunE: runPaper,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, inst := range cfg.Instruments {
			t := inst.Targets
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s strike %-5g targets %g/%g/%g sl %g cooldown %gh cap %d threshold %g\n",
				inst.Name, inst.StrikeStep, t.Target1, t.Target2, t.Target3, t.StopLoss, inst.CooldownHours, inst.DailyCap, inst.ConfidenceThreshold)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON or YAML config file (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load before reading the config")

	backtestCmd.Flags().StringVar(&backtestData, "data", "", "CSV price series to replay")
	backtestCmd.Flags().StringVar(&backtestInstrument, "instrument", "", "instrument name (inferred from the file name when empty)")
	backtestCmd.Flags().StringVar(&backtestFormat, "format", "table", "report format: table or json")
	backtestCmd.Flags().StringVar(&backtestOut, "out", "", "write the report to this file instead of stdout")
	_ = backtestCmd.MarkFlagRequired("data")

	paperCmd.Flags().StringArrayVar(&paperData, "data", nil, "INSTRUMENT=path.csv, repeatable")
	paperCmd.Flags().IntVar(&paperWarmup, "warmup", 0, "samples per series treated as history before the first tick (default window capacity)")
	paperCmd.Flags().StringVar(&paperMetricsAddr, "metrics-addr", ":9090", "address for the /metrics endpoint, empty to disable")
	_ = paperCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(backtestCmd, paperCmd, validateCmd)
}

func main() {
	// 先用默认配置初始化日志，便于记录配置加载过程
	logger.Init(models.LogConfig{Level: "info", Output: "console"})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 加载 .env、配置文件，并用配置重新初始化日志
func loadConfig() (*models.Config, error) {
	if config.LoadEnv(envFile) {
		logger.S().Infof("成功从 %s 加载环境变量。", envFile)
	} else {
		logger.S().Debug("未找到 .env 文件，将从系统环境变量中读取。")
	}

	var cfg *models.Config
	if configPath == "" {
		cfg = config.Default()
		config.ApplyEnv(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	} else {
		var err error
		if cfg, err = config.LoadConfig(configPath); err != nil {
			return nil, fmt.Errorf("无法加载配置文件: %w", err)
		}
	}

	logger.Init(cfg.LogConfig)
	return cfg, nil
}

// instrumentFromPath 从数据文件名中提取指数名称
// 例如: "data/NIFTY-2025-01.csv" -> "NIFTY"
func instrumentFromPath(path string) string {
	name := strings.TrimSuffix(path, ".csv")
	parts := strings.Split(name, "/")
	fileName := parts[len(parts)-1]
	return strings.ToUpper(strings.Split(fileName, "-")[0])
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.S().Sync()

	name := backtestInstrument
	if name == "" {
		name = instrumentFromPath(backtestData)
	}
	inst, err := cfg.Instrument(name)
	if err != nil {
		return err
	}

	series, err := feed.ReadSeriesFile(backtestData, cfg.Location())
	if err != nil {
		return err
	}
	if len(series) == 0 {
		return fmt.Errorf("历史数据文件 %s 中没有有效价格", backtestData)
	}
	logger.S().Infof("--- 启动回测模式 --- %s, %d 条价格", inst.Name, len(series))

	report := backtest.NewEvaluator(cfg, inst, logger.L()).Run(series)

	out := cmd.OutOrStdout()
	if backtestOut != "" {
		f, err := os.Create(backtestOut)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()
		out = f
	}

	var sink reporter.Sink
	switch backtestFormat {
	case "json":
		sink = reporter.NewJSONSink(out, true)
	case "table":
		sink = reporter.NewTableSink(out)
	default:
		return fmt.Errorf("未知的报告格式: %s", backtestFormat)
	}
	return sink.Write(report)
}

func runPaper(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.L()
	defer log.Sync()

	loc := cfg.Location()
	series := make(map[string][]models.PriceSample, len(paperData))
	for _, arg := range paperData {
		name, path, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("--data 需要 INSTRUMENT=path 格式: %q", arg)
		}
		inst, err := cfg.Instrument(name)
		if err != nil {
			return err
		}
		samples, err := feed.ReadSeriesFile(path, loc)
		if err != nil {
			return err
		}
		series[inst.Name] = samples
	}

	warmup := paperWarmup
	if warmup <= 0 {
		warmup = cfg.Indicators.WindowCapacity
	}
	replay := feed.NewReplaySource(series, warmup)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	source := feed.NewGuardedSource(replay, cfg.Source, collector, log)

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开状态存储失败: %w", err)
	}
	defer repo.Close()

	async := notify.NewAsync(notify.Multi(notify.NewLogNotifier(log), collector), 256, log)
	defer async.Close()

	callBot := bot.NewCallBot(cfg, source, repo, async, log, bot.WithObserver(collector))

	if paperMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: paperMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("Serving metrics", zap.String("addr", paperMetricsAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := callBot.Start(ctx); err != nil {
		return fmt.Errorf("机器人启动失败: %w", err)
	}
	callBot.ScanOnce(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for waiting := true; waiting; {
		select {
		case <-ctx.Done():
			waiting = false
		case <-ticker.C:
			if replay.Exhausted() {
				log.Info("Replay exhausted")
				waiting = false
			}
		}
	}

	callBot.Stop()
	callBot.PublishStatus()
	log.Info("机器人已成功停止，状态已保存。", zap.Int("closed_trades", len(callBot.Results())))
	return nil
}
