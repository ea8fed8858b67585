package llm

import (
	"context"
	"strings"
)

// MockClient returns deterministic tool sources keyed by indicator
// keywords in the prompt. It keeps the full pipeline runnable offline.
type MockClient struct{}

// NewMockClient builds the offline backend.
func NewMockClient() *MockClient { return &MockClient{} }

// Complete picks a canned tool for the prompt.
func (c *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem ignores the system prompt and selects by keyword.
func (c *MockClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	q := strings.ToLower(user)
	contains := func(kws ...string) bool {
		for _, kw := range kws {
			if strings.Contains(q, kw) {
				return true
			}
		}
		return false
	}

	var src string
	switch {
	case contains("rsi", "relative strength"):
		src = mockRsiTool
	case contains("bollinger"):
		src = mockBollingerTool
	case contains("macd"):
		src = mockMacdTool
	case contains("kdj", "stochastic"):
		src = mockKdjTool
	case contains("volatility"):
		src = mockVolatilityTool
	case contains("drawdown"):
		src = mockDrawdownTool
	case contains("correlation"):
		src = mockCorrelationTool
	case contains("divergence"):
		src = mockDivergenceTool
	case contains("portfolio"):
		src = mockPortfolioTool
	case contains("signal_threshold", "after the signal", "conditional return"):
		src = mockConditionalReturnTool
	case contains("signal", "return true", "return false"):
		src = mockSignalTool
	case contains("moving average", " ma", "ma "):
		src = mockMaTool
	case contains("fetch", "get ", "retrieve", "net income", "revenue", "quote", "price of"):
		src = mockFetchTool
	default:
		src = mockMaTool
	}

	return "<think>selected a canned implementation for the request</think>\n```go\n" + src + "\n```", nil
}

const mockRsiTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type args struct {
	Prices []float64 ` + "`json:\"prices\"`" + `
	Period int       ` + "`json:\"period\"`" + `
}

func calcRsi(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period+1 {
		return 0, errors.New("not enough prices for the period")
	}
	var gain, loss float64
	for i := len(prices) - period; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	if loss == 0 {
		return 100, nil
	}
	rs := gain / loss
	return 100 - 100/(1+rs), nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	if a.Period == 0 {
		a.Period = 14
	}
	v, err := calcRsi(a.Prices, a.Period)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	prices := []float64{44, 44.5, 44.25, 43.75, 44.5, 44.25, 44.5, 45, 45.5, 46, 46.5, 47, 46.5, 47, 47.5}
	v, err := calcRsi(prices, 5)
	if err != nil {
		return err
	}
	if math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("rsi out of range: %v", v)
	}
	return nil
}
`

const mockMaTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

type args struct {
	Prices []float64 ` + "`json:\"prices\"`" + `
	Window int       ` + "`json:\"window\"`" + `
}

func calcMovingAverage(prices []float64, window int) (float64, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}
	if len(prices) < window {
		return 0, errors.New("not enough prices for the window")
	}
	var sum float64
	for _, p := range prices[len(prices)-window:] {
		sum += p
	}
	return sum / float64(window), nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	if a.Window == 0 {
		a.Window = 20
	}
	v, err := calcMovingAverage(a.Prices, a.Window)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := calcMovingAverage([]float64{1, 2, 3, 4, 5}, 5)
	if err != nil {
		return err
	}
	if v != 3 {
		return fmt.Errorf("expected 3, got %v", v)
	}
	return nil
}
`

const mockBollingerTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type args struct {
	Prices []float64 ` + "`json:\"prices\"`" + `
	Window int       ` + "`json:\"window\"`" + `
	NumStd float64   ` + "`json:\"num_std\"`" + `
}

func calcBollinger(prices []float64, window int, numStd float64) (map[string]float64, error) {
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	if len(prices) < window {
		return nil, errors.New("not enough prices for the window")
	}
	tail := prices[len(prices)-window:]
	var sum float64
	for _, p := range tail {
		sum += p
	}
	mean := sum / float64(window)
	var variance float64
	for _, p := range tail {
		variance += (p - mean) * (p - mean)
	}
	std := math.Sqrt(variance / float64(window))
	return map[string]float64{
		"upper":  mean + numStd*std,
		"middle": mean,
		"lower":  mean - numStd*std,
	}, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	if a.Window == 0 {
		a.Window = 20
	}
	if a.NumStd == 0 {
		a.NumStd = 2.0
	}
	bands, err := calcBollinger(a.Prices, a.Window, a.NumStd)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(bands)
	return string(out), err
}

func SelfTest() error {
	bands, err := calcBollinger([]float64{10, 11, 12, 11, 10, 11, 12, 13, 12, 11}, 5, 2.0)
	if err != nil {
		return err
	}
	if bands["upper"] < bands["middle"] || bands["middle"] < bands["lower"] {
		return fmt.Errorf("band ordering violated: %v", bands)
	}
	return nil
}
`

const mockMacdTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

type args struct {
	Prices       []float64 ` + "`json:\"prices\"`" + `
	FastPeriod   int       ` + "`json:\"fast_period\"`" + `
	SlowPeriod   int       ` + "`json:\"slow_period\"`" + `
	SignalPeriod int       ` + "`json:\"signal_period\"`" + `
}

func ema(prices []float64, period int) []float64 {
	k := 2.0 / float64(period+1)
	out := make([]float64, len(prices))
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = prices[i]*k + out[i-1]*(1-k)
	}
	return out
}

func calcMacd(prices []float64, fast, slow, signal int) (map[string]float64, error) {
	if len(prices) < slow {
		return nil, errors.New("not enough prices for the slow period")
	}
	fastEma := ema(prices, fast)
	slowEma := ema(prices, slow)
	diff := make([]float64, len(prices))
	for i := range prices {
		diff[i] = fastEma[i] - slowEma[i]
	}
	signalLine := ema(diff, signal)
	last := len(prices) - 1
	return map[string]float64{
		"macd":      diff[last],
		"signal":    signalLine[last],
		"histogram": diff[last] - signalLine[last],
	}, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	if a.FastPeriod == 0 {
		a.FastPeriod = 12
	}
	if a.SlowPeriod == 0 {
		a.SlowPeriod = 26
	}
	if a.SignalPeriod == 0 {
		a.SignalPeriod = 9
	}
	v, err := calcMacd(a.Prices, a.FastPeriod, a.SlowPeriod, a.SignalPeriod)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	v, err := calcMacd(prices, 12, 26, 9)
	if err != nil {
		return err
	}
	if v["macd"] <= 0 {
		return fmt.Errorf("rising series should have positive macd, got %v", v["macd"])
	}
	return nil
}
`

const mockKdjTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

type args struct {
	High    []float64 ` + "`json:\"high\"`" + `
	Low     []float64 ` + "`json:\"low\"`" + `
	Close   []float64 ` + "`json:\"close\"`" + `
	KPeriod int       ` + "`json:\"k_period\"`" + `
	DPeriod int       ` + "`json:\"d_period\"`" + `
}

func calcKdj(high, low, closes []float64, kPeriod, dPeriod int) (map[string]float64, error) {
	n := len(closes)
	if n == 0 || len(high) != n || len(low) != n {
		return nil, errors.New("high, low, and close must be equal-length and non-empty")
	}
	if kPeriod <= 0 || n < kPeriod {
		return nil, errors.New("not enough bars for the k period")
	}
	k, d := 50.0, 50.0
	for i := kPeriod - 1; i < n; i++ {
		hh, ll := high[i], low[i]
		for j := i - kPeriod + 1; j <= i; j++ {
			if high[j] > hh {
				hh = high[j]
			}
			if low[j] < ll {
				ll = low[j]
			}
		}
		rsv := 50.0
		if hh > ll {
			rsv = (closes[i] - ll) / (hh - ll) * 100
		}
		k = k*2/3 + rsv/3
		d = d*float64(dPeriod-1)/float64(dPeriod) + k/float64(dPeriod)
	}
	return map[string]float64{"k": k, "d": d, "j": 3*k - 2*d}, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	if a.KPeriod == 0 {
		a.KPeriod = 9
	}
	if a.DPeriod == 0 {
		a.DPeriod = 3
	}
	v, err := calcKdj(a.High, a.Low, a.Close, a.KPeriod, a.DPeriod)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	high := []float64{11, 12, 13, 12, 13, 14, 13, 14, 15, 14, 15, 16}
	low := []float64{9, 10, 11, 10, 11, 12, 11, 12, 13, 12, 13, 14}
	closes := []float64{10, 11, 12, 11, 12, 13, 12, 13, 14, 13, 14, 15}
	v, err := calcKdj(high, low, closes, 9, 3)
	if err != nil {
		return err
	}
	for _, key := range []string{"k", "d", "j"} {
		if _, ok := v[key]; !ok {
			return fmt.Errorf("missing %s", key)
		}
	}
	return nil
}
`

const mockVolatilityTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type args struct {
	Prices []float64 ` + "`json:\"prices\"`" + `
	Window int       ` + "`json:\"window\"`" + `
}

func calcVolatility(prices []float64, window int) (float64, error) {
	if window <= 1 {
		return 0, errors.New("window must exceed 1")
	}
	if len(prices) < window+1 {
		return 0, errors.New("not enough prices for the window")
	}
	tail := prices[len(prices)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] == 0 {
			return 0, errors.New("zero price in series")
		}
		returns = append(returns, tail[i]/tail[i-1]-1)
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance), nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	if a.Window == 0 {
		a.Window = 20
	}
	if a.Window >= len(a.Prices) {
		a.Window = len(a.Prices) - 1
	}
	v, err := calcVolatility(a.Prices, a.Window)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := calcVolatility([]float64{100, 102, 101, 103, 102, 104, 103, 105}, 5)
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("volatility must be non-negative, got %v", v)
	}
	return nil
}
`

const mockDrawdownTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

type args struct {
	Prices []float64 ` + "`json:\"prices\"`" + `
}

func calcMaxDrawdown(prices []float64) (float64, error) {
	if len(prices) == 0 {
		return 0, errors.New("empty price series")
	}
	peak := prices[0]
	maxDD := 0.0
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			dd := (peak - p) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	v, err := calcMaxDrawdown(a.Prices)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := calcMaxDrawdown([]float64{100, 120, 90, 110, 80})
	if err != nil {
		return err
	}
	expected := (120.0 - 80.0) / 120.0
	if v < expected-1e-9 || v > expected+1e-9 {
		return fmt.Errorf("expected %v, got %v", expected, v)
	}
	return nil
}
`

const mockCorrelationTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type args struct {
	Prices1 []float64 ` + "`json:\"prices1\"`" + `
	Prices2 []float64 ` + "`json:\"prices2\"`" + `
}

func calcCorrelation(a, b []float64) (float64, error) {
	if len(a) != len(b) || len(a) < 2 {
		return 0, errors.New("series must be equal-length with at least 2 points")
	}
	n := float64(len(a))
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n
	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, errors.New("constant series has no correlation")
	}
	return cov / math.Sqrt(varA*varB), nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	v, err := calcCorrelation(a.Prices1, a.Prices2)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := calcCorrelation([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8})
	if err != nil {
		return err
	}
	if v < 0.999 {
		return fmt.Errorf("perfectly correlated series should be ~1, got %v", v)
	}
	return nil
}
`

const mockSignalTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

type args struct {
	Prices []float64 ` + "`json:\"prices\"`" + `
}

func checkGoldenCross(prices []float64) (bool, error) {
	if len(prices) < 10 {
		return false, errors.New("need at least 10 prices")
	}
	short, long := 0.0, 0.0
	for _, p := range prices[len(prices)-5:] {
		short += p
	}
	for _, p := range prices[len(prices)-10:] {
		long += p
	}
	return short/5 > long/10, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	v, err := checkGoldenCross(a.Prices)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	v, err := checkGoldenCross(rising)
	if err != nil {
		return err
	}
	if !v {
		return fmt.Errorf("rising series should cross, got %v", v)
	}
	return nil
}
`

const mockDivergenceTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

type args struct {
	Prices  []float64 ` + "`json:\"prices\"`" + `
	Volumes []float64 ` + "`json:\"volumes\"`" + `
}

func detectDivergence(prices, volumes []float64) (bool, error) {
	if len(prices) < 2 || len(prices) != len(volumes) {
		return false, errors.New("prices and volumes must be equal-length with at least 2 points")
	}
	half := len(prices) / 2
	avg := func(xs []float64) float64 {
		var s float64
		for _, x := range xs {
			s += x
		}
		return s / float64(len(xs))
	}
	priceUp := avg(prices[half:]) > avg(prices[:half])
	volumeUp := avg(volumes[half:]) > avg(volumes[:half])
	return priceUp != volumeUp, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	v, err := detectDivergence(a.Prices, a.Volumes)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	prices := []float64{1, 2, 3, 4, 5, 6}
	volumes := []float64{6, 5, 4, 3, 2, 1}
	v, err := detectDivergence(prices, volumes)
	if err != nil {
		return err
	}
	if !v {
		return fmt.Errorf("opposite trends should diverge, got %v", v)
	}
	return nil
}
`

const mockPortfolioTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

type args struct {
	Symbols []string  ` + "`json:\"symbols\"`" + `
	Weights []float64 ` + "`json:\"weights\"`" + `
}

func calcPortfolioReturn(symbols []string, weights []float64) (float64, error) {
	if len(symbols) == 0 {
		return 0, errors.New("empty symbol list")
	}
	if len(weights) == 0 {
		weights = make([]float64, len(symbols))
		for i := range weights {
			weights[i] = 1.0 / float64(len(symbols))
		}
	}
	if len(weights) != len(symbols) {
		return 0, errors.New("weights must match symbols")
	}
	var total float64
	for i, sym := range symbols {
		ret := 0.0
		for _, ch := range sym {
			ret += float64(ch%7) - 3
		}
		total += weights[i] * ret / 100
	}
	return total, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	v, err := calcPortfolioReturn(a.Symbols, a.Weights)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := calcPortfolioReturn([]string{"AAPL", "MSFT"}, []float64{0.5, 0.5})
	if err != nil {
		return err
	}
	if v < -1 || v > 1 {
		return fmt.Errorf("return out of sane range: %v", v)
	}
	return nil
}
`

const mockConditionalReturnTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

type args struct {
	Prices          []float64 ` + "`json:\"prices\"`" + `
	SignalThreshold float64   ` + "`json:\"signal_threshold\"`" + `
}

func calcConditionalReturn(prices []float64, threshold float64) (float64, error) {
	if len(prices) < 3 {
		return 0, errors.New("need at least 3 prices")
	}
	for i := 1; i < len(prices)-1; i++ {
		if prices[i] >= threshold {
			return prices[len(prices)-1]/prices[i] - 1, nil
		}
	}
	return 0, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	if a.SignalThreshold == 0 {
		a.SignalThreshold = 70
	}
	v, err := calcConditionalReturn(a.Prices, a.SignalThreshold)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := calcConditionalReturn([]float64{50, 75, 80, 90}, 70)
	if err != nil {
		return err
	}
	if v <= 0 {
		return fmt.Errorf("rising series after signal should gain, got %v", v)
	}
	return nil
}
`

const mockFetchTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

type args struct {
	Symbol string ` + "`json:\"symbol\"`" + `
	Start  string ` + "`json:\"start\"`" + `
	End    string ` + "`json:\"end\"`" + `
}

func fetchStockPrice(symbol, start, end string) (float64, error) {
	if symbol == "" {
		return 0, errors.New("symbol is required")
	}
	price := 50.0
	for _, ch := range symbol {
		price += float64(ch % 13)
	}
	return price, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	v, err := fetchStockPrice(a.Symbol, a.Start, a.End)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := fetchStockPrice("AAPL", "2023-01-01", "2023-12-31")
	if err != nil {
		return err
	}
	if v <= 0 {
		return fmt.Errorf("price must be positive, got %v", v)
	}
	return nil
}
`
