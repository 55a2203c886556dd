package reporter

import (
	"encoding/json"
	"fmt"
	"index-options-callbot/internal/backtest"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Record 是单笔交易的扁平化输出
type Record struct {
	Instrument      string    `json:"instrument"`
	Direction       string    `json:"direction"`
	EntryPrice      float64   `json:"entry_price"`
	ExitPrice       float64   `json:"exit_price"`
	PnL             float64   `json:"pnl"`
	CloseReason     string    `json:"close_reason"`
	Confidence      float64   `json:"confidence"`
	TargetsModified bool      `json:"targets_modified"`
	EntryTime       time.Time `json:"entry_time"`
	ExitTime        time.Time `json:"exit_time"`
}

// Summary 是交给报告接收端的完整结构
type Summary struct {
	Instrument string         `json:"instrument"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Samples    int            `json:"samples"`
	Signals    int            `json:"signals"`
	Stats      backtest.Stats `json:"stats"`
	Records    []Record       `json:"records"`
}

// Sink consumes backtest reports.
type Sink interface {
	Write(report backtest.Report) error
}

// Records flattens the report's trade results in close order.
func Records(report backtest.Report) []Record {
	out := make([]Record, 0, len(report.Results))
	for _, r := range report.Results {
		out = append(out, Record{
			Instrument:      r.Instrument,
			Direction:       string(r.Direction),
			EntryPrice:      r.EntryPrice,
			ExitPrice:       r.ExitPrice,
			PnL:             r.PnL,
			CloseReason:     r.CloseReason.String(),
			Confidence:      r.Confidence,
			TargetsModified: r.TargetsModified,
			EntryTime:       r.EntryTime,
			ExitTime:        r.ExitTime,
		})
	}
	return out
}

// NewSummary builds the serializable summary of report.
func NewSummary(report backtest.Report) Summary {
	return Summary{
		Instrument: report.Instrument,
		Start:      report.Start,
		End:        report.End,
		Samples:    report.Samples,
		Signals:    report.Signals,
		Stats:      report.Stats,
		Records:    Records(report),
	}
}

// JSONSink writes one JSON document per report.
type JSONSink struct {
	w      io.Writer
	indent bool
}

// NewJSONSink creates a sink writing to w.
func NewJSONSink(w io.Writer, indent bool) *JSONSink {
	return &JSONSink{w: w, indent: indent}
}

func (s *JSONSink) Write(report backtest.Report) error {
	enc := json.NewEncoder(s.w)
	if s.indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(NewSummary(report)); err != nil {
		return fmt.Errorf("encode report for %s: %w", report.Instrument, err)
	}
	return nil
}

// TableSink renders reports as text tables.
type TableSink struct {
	w io.Writer
}

// NewTableSink creates a sink rendering to w.
func NewTableSink(w io.Writer) *TableSink {
	return &TableSink{w: w}
}

func (s *TableSink) Write(report backtest.Report) error {
	GenerateReport(s.w, report)
	return nil
}

// GenerateReport 打印回测结果报告：汇总指标表 + 逐笔交易表
func GenerateReport(w io.Writer, report backtest.Report) {
	st := report.Stats

	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleLight)
	summary.SetTitle(fmt.Sprintf("回测结果报告 %s", report.Instrument))
	summary.AppendRows([]table.Row{
		{"回测周期", fmt.Sprintf("%s 到 %s", report.Start.Format("2006-01-02 15:04"), report.End.Format("2006-01-02 15:04"))},
		{"样本数", report.Samples},
		{"信号数", report.Signals},
	})
	summary.AppendSeparator()
	summary.AppendRows([]table.Row{
		{"总交易次数", st.TotalTrades},
		{"盈利次数", st.Wins},
		{"亏损次数", st.Losses},
		{"胜率", fmt.Sprintf("%.2f%%", st.WinRate*100)},
		{"平均盈亏(点)", fmt.Sprintf("%.2f", st.AvgPnL)},
		{"总盈亏(点)", fmt.Sprintf("%.2f", st.TotalPnL)},
		{"最大回撤(点)", fmt.Sprintf("%.2f", st.MaxDrawdown)},
		{"置信度校准误差", fmt.Sprintf("%.4f", st.CalibrationError)},
	})
	summary.AppendSeparator()
	summary.AppendRows([]table.Row{
		{"目标平仓", st.TargetHits},
		{"止损平仓", st.StopLossHits},
		{"目标上调", st.TargetsModified},
		{"期末持仓", st.OpenAtEnd},
	})
	summary.Render()

	records := Records(report)
	if len(records) == 0 {
		return
	}

	trades := table.NewWriter()
	trades.SetOutputMirror(w)
	trades.SetStyle(table.StyleLight)
	trades.AppendHeader(table.Row{"#", "Direction", "Entry", "Exit", "Entry Price", "Exit Price", "PnL", "Reason", "Confidence"})
	for i, r := range records {
		trades.AppendRow(table.Row{
			i + 1,
			r.Direction,
			r.EntryTime.Format("01-02 15:04"),
			r.ExitTime.Format("01-02 15:04"),
			fmt.Sprintf("%.2f", r.EntryPrice),
			fmt.Sprintf("%.2f", r.ExitPrice),
			fmt.Sprintf("%+.2f", r.PnL),
			r.CloseReason,
			fmt.Sprintf("%.1f", r.Confidence),
		})
	}
	trades.AppendFooter(table.Row{"", "", "", "", "", "Total", fmt.Sprintf("%+.2f", st.TotalPnL), "", ""})
	trades.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
	})
	trades.Render()
}
