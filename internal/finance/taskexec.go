package finance

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zeussilver/insitu-finance-agent/internal/executor"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/registry"
	"github.com/zeussilver/insitu-finance-agent/internal/toolsrc"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

// indexSymbolMapping resolves index names to their ticker symbols.
var indexSymbolMapping = []struct {
	name   string
	symbol string
}{
	{"s&p 500", "^GSPC"},
	{"s&p500", "^GSPC"},
	{"sp500", "^GSPC"},
	{"dow", "^DJI"},
	{"nasdaq", "^IXIC"},
	{"russell", "^RUT"},
	{"vix", "^VIX"},
}

// symbolExclusions are uppercase words that look like tickers but are
// ordinary task vocabulary.
var symbolExclusions = map[string]bool{
	"GET": true, "SET": true, "PUT": true, "AND": true, "THE": true,
	"FOR": true, "RSI": true, "MACD": true, "KDJ": true, "MA": true,
	"OF": true, "ETF": true, "OHLCV": true, "EPS": true, "USD": true,
	"API": true, "IF": true, "MAX": true, "MIN": true, "STD": true,
}

// knownTickers are recognized before the generic uppercase scan.
var knownTickers = []string{
	"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "META", "NVDA", "SPY", "QQQ", "BRK",
}

var (
	tickerPattern = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	datePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	rsiPeriodRe   = regexp.MustCompile(`(?i)rsi[-_ ]?(\d+)`)
	macdParamsRe  = regexp.MustCompile(`(?i)macd\s*\(\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*\)`)
	ndayRe        = regexp.MustCompile(`(\d+)[- ]day`)
	windowRe      = regexp.MustCompile(`(?i)window\s*(?:of\s*)?(\d+)`)
)

// securityPatterns mark tasks that must be refused outright.
var securityPatterns = []string{
	"/etc/passwd", "etc/shadow", "delete file", "remove file", "rm -rf",
	"environment variable", "api key", "credentials", "execute shell",
	"run command", "subprocess", "os.exit", "exec.command",
}

// ErrBlocked marks a refused task.
var ErrBlocked = fmt.Errorf("BLOCKED")

// ExtractSymbol finds the ticker a query refers to: index names first,
// then known tickers, then the longest uppercase token that is not task
// vocabulary, defaulting to AAPL.
func ExtractSymbol(query string) string {
	q := strings.ToLower(query)
	for _, m := range indexSymbolMapping {
		if strings.Contains(q, m.name) {
			return m.symbol
		}
	}
	for _, t := range knownTickers {
		if strings.Contains(query, t) {
			return t
		}
	}
	matches := tickerPattern.FindAllString(query, -1)
	sort.SliceStable(matches, func(i, j int) bool { return len(matches[i]) > len(matches[j]) })
	for _, m := range matches {
		if !symbolExclusions[m] {
			return m
		}
	}
	return "AAPL"
}

// ExtractDateRange finds the (start, end) window in a query, filling the
// 2023 calendar year for missing ends.
func ExtractDateRange(query string) (string, string) {
	dates := datePattern.FindAllString(query, -1)
	switch {
	case len(dates) >= 2:
		return dates[0], dates[1]
	case len(dates) == 1:
		return dates[0], "2023-12-31"
	default:
		return "2023-01-01", "2023-12-31"
	}
}

// ExtractTaskParams pulls indicator parameters out of a query.
func ExtractTaskParams(query string) map[string]any {
	params := map[string]any{}
	if m := rsiPeriodRe.FindStringSubmatch(query); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			params["period"] = n
		}
	} else if strings.Contains(strings.ToLower(query), "rsi") {
		params["period"] = 14
	}
	if m := macdParamsRe.FindStringSubmatch(query); m != nil {
		fast, _ := strconv.Atoi(m[1])
		slow, _ := strconv.Atoi(m[2])
		signal, _ := strconv.Atoi(m[3])
		params["fast_period"], params["slow_period"], params["signal_period"] = fast, slow, signal
	} else if strings.Contains(strings.ToLower(query), "macd") {
		params["fast_period"], params["slow_period"], params["signal_period"] = 12, 26, 9
	}
	if strings.Contains(strings.ToLower(query), "kdj") {
		params["k_period"], params["d_period"] = 9, 3
	}
	if strings.Contains(strings.ToLower(query), "bollinger") {
		params["window"], params["num_std"] = 20, 2.0
	}
	if m := windowRe.FindStringSubmatch(query); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			params["window"] = n
		}
	} else if m := ndayRe.FindStringSubmatch(query); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if _, hasPeriod := params["period"]; !hasPeriod {
				params["period"] = n
			}
			if _, hasWindow := params["window"]; !hasWindow {
				params["window"] = n
			}
		}
	}
	return params
}

// IsBlocked reports whether a query asks for a refused operation.
func IsBlocked(query string) bool {
	q := strings.ToLower(query)
	for _, p := range securityPatterns {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// Synthesizer is the synthesis hook the task executor calls when no
// registered tool covers a task.
type Synthesizer interface {
	SynthesizeTool(ctx context.Context, taskID, query string) (*types.ToolArtifact, error)
}

// TaskExecutor routes a free-text task onto a registered (or freshly
// synthesized) tool and runs it.
type TaskExecutor struct {
	registry       *registry.Registry
	executor       *executor.Executor
	proxy          *DataProxy
	synth          Synthesizer
	allowSynthesis bool
}

// NewTaskExecutor builds a task executor. synth may be nil, which
// disables on-demand synthesis.
func NewTaskExecutor(reg *registry.Registry, ex *executor.Executor, proxy *DataProxy, synth Synthesizer, allowSynthesis bool) *TaskExecutor {
	return &TaskExecutor{registry: reg, executor: ex, proxy: proxy, synth: synth, allowSynthesis: allowSynthesis}
}

// Execute runs one task and returns its decoded result.
func (te *TaskExecutor) Execute(ctx context.Context, taskID, query string) (any, error) {
	log := logging.Get(logging.CategoryFinance)
	if IsBlocked(query) {
		log.Warnw("task blocked", "task_id", taskID, "query", query)
		return nil, ErrBlocked
	}

	category := toolsrc.InferCategory(query)
	log.Infow("task routed", "task_id", taskID, "category", category)
	if category == types.CategoryFetch {
		return te.executeFetch(query)
	}
	return te.executeCalc(ctx, taskID, query, category)
}

func (te *TaskExecutor) executeFetch(query string) (any, error) {
	symbol := ExtractSymbol(query)
	start, end := ExtractDateRange(query)
	q := strings.ToLower(query)

	fn := "get_stock_hist"
	switch {
	case strings.Contains(q, "net income") || strings.Contains(q, "revenue") ||
		strings.Contains(q, "earnings") || strings.Contains(q, "eps"):
		fn = "get_financial_info"
	case strings.Contains(q, "quote") || strings.Contains(q, "real-time") || strings.Contains(q, "spot"):
		fn = "get_spot_price"
	case strings.HasPrefix(symbol, "^"):
		fn = "get_index_daily"
	case strings.Contains(q, "etf"):
		fn = "get_etf_hist"
	}

	args := map[string]any{"symbol": symbol}
	if fn != "get_spot_price" && fn != "get_financial_info" {
		args["start"], args["end"] = start, end
	}
	result, err := te.proxy.Call(fn, args)
	if err != nil {
		return nil, err
	}

	if fn == "get_financial_info" {
		if m, ok := result.(map[string]any); ok {
			switch {
			case strings.Contains(q, "revenue"):
				return m["revenue"], nil
			case strings.Contains(q, "eps"):
				return m["eps"], nil
			default:
				return m["net_income"], nil
			}
		}
	}
	return result, nil
}

func (te *TaskExecutor) executeCalc(ctx context.Context, taskID, query, category string) (any, error) {
	indicator := toolsrc.InferIndicator(query)
	tool, err := te.registry.FindBySchema(category, indicator)
	if err != nil {
		return nil, err
	}
	if tool == nil && te.allowSynthesis && te.synth != nil {
		tool, err = te.synth.SynthesizeTool(ctx, taskID, query)
		if err != nil {
			return nil, fmt.Errorf("synthesis failed: %w", err)
		}
	}
	if tool == nil {
		return nil, fmt.Errorf("no registered tool for category %s indicator %q", category, indicator)
	}

	args, err := te.prepareCalcArgs(query, tool)
	if err != nil {
		return nil, err
	}
	trace := te.executor.Execute(ctx, tool.CodeContent, tool.Name, args, taskID, category)
	if trace.ExitCode != 0 {
		return nil, fmt.Errorf("tool %s failed: %s", tool.Name, trace.Stderr)
	}
	return te.executor.ExtractResult(trace)
}

// prepareCalcArgs fetches the series the tool's schema asks for and
// merges in the query's indicator parameters.
func (te *TaskExecutor) prepareCalcArgs(query string, tool *types.ToolArtifact) (map[string]any, error) {
	symbol := ExtractSymbol(query)
	start, end := ExtractDateRange(query)
	hist, err := te.proxy.Call("get_stock_hist", map[string]any{
		"symbol": symbol, "start": start, "end": end,
	})
	if err != nil {
		return nil, err
	}
	bars, _ := hist.(map[string]any)

	series := func(keys ...string) any {
		for _, k := range keys {
			if v, ok := bars[k]; ok {
				return v
			}
		}
		return nil
	}

	args := map[string]any{}
	for name := range tool.ArgsSchema {
		switch name {
		case "prices", "close", "prices1":
			args[name] = series("Close", "close")
		case "prices2", "high":
			args[name] = series("High", "high")
		case "low":
			args[name] = series("Low", "low")
		case "volume", "volumes":
			args[name] = series("Volume", "volume")
		case "symbol":
			args[name] = symbol
		case "symbols":
			args[name] = []string{symbol}
		case "start", "start_date":
			args[name] = start
		case "end", "end_date":
			args[name] = end
		}
	}
	for k, v := range ExtractTaskParams(query) {
		if _, declared := tool.ArgsSchema[k]; declared || len(tool.ArgsSchema) == 0 {
			args[k] = v
		}
	}
	return args, nil
}
