package toolsrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTool = `package main

import (
	"encoding/json"
	"errors"
)

type args struct {
	Prices []float64 ` + "`json:\"prices\"`" + `
	Period int       ` + "`json:\"period\"`" + `
	Label  string
}

func calcRsi(prices []float64, period int) (float64, error) {
	if len(prices) == 0 {
		return 0, errors.New("empty")
	}
	return 50, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", err
	}
	v, err := calcRsi(a.Prices, a.Period)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error { return nil }
`

func TestExtractFunctionName(t *testing.T) {
	assert.Equal(t, "calc_rsi", ExtractFunctionName(sampleTool))
}

func TestExtractFunctionNameDirective(t *testing.T) {
	src := "//tool:name get_stock_hist\n" + sampleTool
	assert.Equal(t, "get_stock_hist", ExtractFunctionName(src))
}

func TestExtractFunctionNameUnparseable(t *testing.T) {
	assert.Equal(t, "", ExtractFunctionName("not go code"))
}

func TestExtractArgsSchema(t *testing.T) {
	schema := ExtractArgsSchema(sampleTool)
	require.NotNil(t, schema)
	assert.Equal(t, "list", schema["prices"])
	assert.Equal(t, "int", schema["period"])
	assert.Equal(t, "string", schema["label"])
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"calcRsi":         "calc_rsi",
		"getStockHist":    "get_stock_hist",
		"CalcMACDSignal":  "calc_macd_signal",
		"already_snake":   "already_snake",
		"fetchETFHistory": "fetch_etf_history",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), "input %q", in)
	}
}

func TestInferCategory(t *testing.T) {
	assert.Equal(t, "fetch", InferCategory("Get the net income of AAPL"))
	assert.Equal(t, "calculation", InferCategory("Calculate the RSI-14 of AAPL"))
	assert.Equal(t, "composite", InferCategory("Return true if RSI is above 70"))
	assert.Equal(t, "composite", InferCategory("Detect volume-price divergence"))
}

func TestInferIndicator(t *testing.T) {
	assert.Equal(t, "rsi", InferIndicator("Calculate the RSI-14 of AAPL"))
	assert.Equal(t, "ma", InferIndicator("Calculate the 20-day moving average"))
	assert.Equal(t, "bollinger", InferIndicator("计算布林带"))
	assert.Equal(t, "ma", InferIndicator("Calculate the 5-day MA of MSFT"))
	assert.Equal(t, "macd", InferIndicator("Calculate MACD(12,26,9)"))
	assert.Equal(t, "drawdown", InferIndicator("Calculate the maximum drawdown of META"))
	assert.Equal(t, "", InferIndicator("Get the price of AAPL"))
}

func TestInferDataType(t *testing.T) {
	assert.Equal(t, "financial", InferDataType("Get the net income of AAPL"))
	assert.Equal(t, "volume", InferDataType("average trading volume"))
	assert.Equal(t, "price", InferDataType("closing price of TSLA"))
}
