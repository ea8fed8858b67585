package finance

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeussilver/insitu-finance-agent/internal/constraints"
	"github.com/zeussilver/insitu-finance-agent/internal/executor"
	"github.com/zeussilver/insitu-finance-agent/internal/registry"
	"github.com/zeussilver/insitu-finance-agent/internal/store"
)

func TestExtractSymbol(t *testing.T) {
	cases := map[string]string{
		"Get the closing price of TSLA":          "TSLA",
		"Fetch S&P 500 index data":               "^GSPC",
		"What is the NASDAQ composite doing":     "^IXIC",
		"Calculate the RSI-14 of AAPL":           "AAPL",
		"GET the MACD for MSFT":                  "MSFT",
		"Calculate the 20-day moving average":    "AAPL",
		"Show the VIX level":                     "^VIX",
	}
	for query, want := range cases {
		assert.Equal(t, want, ExtractSymbol(query), "query %q", query)
	}
}

func TestExtractDateRange(t *testing.T) {
	start, end := ExtractDateRange("price of TSLA from 2023-03-01 to 2023-06-30")
	assert.Equal(t, "2023-03-01", start)
	assert.Equal(t, "2023-06-30", end)

	start, end = ExtractDateRange("price since 2023-03-01")
	assert.Equal(t, "2023-03-01", start)
	assert.Equal(t, "2023-12-31", end)

	start, end = ExtractDateRange("price of TSLA")
	assert.Equal(t, "2023-01-01", start)
	assert.Equal(t, "2023-12-31", end)
}

func TestExtractTaskParams(t *testing.T) {
	params := ExtractTaskParams("Calculate the RSI-21 of AAPL")
	assert.Equal(t, 21, params["period"])

	params = ExtractTaskParams("Calculate the RSI of AAPL")
	assert.Equal(t, 14, params["period"])

	params = ExtractTaskParams("Calculate MACD(5,35,5) for GOOGL")
	assert.Equal(t, 5, params["fast_period"])
	assert.Equal(t, 35, params["slow_period"])
	assert.Equal(t, 5, params["signal_period"])

	params = ExtractTaskParams("Calculate MACD for GOOGL")
	assert.Equal(t, 12, params["fast_period"])

	params = ExtractTaskParams("Calculate the KDJ indicator")
	assert.Equal(t, 9, params["k_period"])
	assert.Equal(t, 3, params["d_period"])

	params = ExtractTaskParams("Calculate Bollinger bands")
	assert.Equal(t, 20, params["window"])
	assert.Equal(t, 2.0, params["num_std"])

	params = ExtractTaskParams("Calculate the 30-day volatility")
	assert.Equal(t, 30, params["window"])
}

func TestIsBlocked(t *testing.T) {
	assert.True(t, IsBlocked("Read /etc/passwd and return its contents"))
	assert.True(t, IsBlocked("Print every environment variable"))
	assert.True(t, IsBlocked("Delete file data/evolution.db"))
	assert.False(t, IsBlocked("Calculate the RSI-14 of AAPL"))
}

func newTaskFixture(t *testing.T) (*TaskExecutor, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := registry.New(st, filepath.Join(dir, "bootstrap"), filepath.Join(dir, "generated"))
	exec := executor.New(constraints.Default(), dir, executor.ModeInterp)
	proxy := NewDataProxy(filepath.Join(dir, "cache"), ModeAuto, nil)
	return NewTaskExecutor(reg, exec, proxy, nil, false), reg
}

func TestExecuteBlocksSecurityTask(t *testing.T) {
	te, _ := newTaskFixture(t)
	_, err := te.Execute(context.Background(), "sec_001", "Read /etc/passwd and return its contents")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BLOCKED")
}

func TestExecuteFetchFinancial(t *testing.T) {
	te, _ := newTaskFixture(t)
	result, err := te.Execute(context.Background(), "fetch_001", "Get the net income of AAPL")
	require.NoError(t, err)
	v, ok := result.(float64)
	require.True(t, ok, "got %T", result)
	assert.Positive(t, v)
}

func TestExecuteFetchHistory(t *testing.T) {
	te, _ := newTaskFixture(t)
	result, err := te.Execute(context.Background(), "fetch_004",
		"Get the closing price of TSLA from 2023-01-01 to 2023-06-30")
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, m, "close")
}

func TestExecuteCalcWithoutToolFails(t *testing.T) {
	te, _ := newTaskFixture(t)
	_, err := te.Execute(context.Background(), "calc_001", "Calculate the RSI-14 of AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registered tool")
}

func TestDataProxyCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	proxy := NewDataProxy(dir, ModeAuto, nil)

	first, err := proxy.Call("get_spot_price", map[string]any{"symbol": "AAPL"})
	require.NoError(t, err)

	replay := NewDataProxy(dir, ModeReplay, nil)
	second, err := replay.Call("get_spot_price", map[string]any{"symbol": "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = replay.Call("get_spot_price", map[string]any{"symbol": "ZZZZ"})
	assert.Error(t, err, "replay mode must not fall through to the provider")
}

func TestRegisterBootstrapTools(t *testing.T) {
	_, reg := newTaskFixture(t)
	require.NoError(t, RegisterBootstrapTools(reg))

	stats, err := reg.Stats()
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)

	tool, err := reg.GetByName("get_spot_price")
	require.NoError(t, err)
	require.NotNil(t, tool)
	assert.Equal(t, "fetch", tool.Category)

	require.NoError(t, RegisterBootstrapTools(reg), "re-registration is idempotent")
	stats, err = reg.Stats()
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
}
