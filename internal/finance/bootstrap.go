package finance

import (
	"fmt"

	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/registry"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

// bootstrapTool pairs a tool source with its registration metadata.
type bootstrapTool struct {
	name      string
	code      string
	indicator string
	dataType  string
}

// RegisterBootstrapTools seeds the registry with the built-in fetch
// tools. Registration is idempotent through content-hash dedup.
func RegisterBootstrapTools(reg *registry.Registry) error {
	tools := []bootstrapTool{
		{"get_stock_hist", bootstrapStockHist, "", "ohlcv"},
		{"get_financial_info", bootstrapFinancialInfo, "", "financial"},
		{"get_spot_price", bootstrapSpotPrice, "", "price"},
		{"get_index_daily", bootstrapIndexDaily, "", "ohlcv"},
		{"get_etf_hist", bootstrapEtfHist, "", "ohlcv"},
	}
	log := logging.Get(logging.CategoryFinance)

	for _, bt := range tools {
		tool, err := reg.Register(bt.name, bt.code, registry.RegisterOptions{
			Permissions: []string{string(types.PermNetworkRead), string(types.PermCalcOnly)},
			IsBootstrap: true,
		})
		if err != nil {
			return fmt.Errorf("register bootstrap tool %s: %w", bt.name, err)
		}
		if err := reg.UpdateSchema(tool.ID, types.CategoryFetch, bt.indicator, bt.dataType, []string{"symbol"}); err != nil {
			return err
		}
		caps := make([]string, 0, 4)
		for _, c := range types.CapabilitiesFor(types.CategoryFetch) {
			caps = append(caps, string(c))
		}
		if err := reg.UpdateVerification(tool.ID, caps, "", 2); err != nil {
			return err
		}
		log.Infow("bootstrap tool ready", "name", bt.name, "id", tool.ID)
	}
	return nil
}

const bootstrapStockHist = `//tool:name get_stock_hist
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type args struct {
	Symbol string ` + "`json:\"symbol\"`" + `
	Start  string ` + "`json:\"start\"`" + `
	End    string ` + "`json:\"end\"`" + `
}

func seriesBase(symbol string) float64 {
	base := 50.0
	for _, ch := range symbol {
		base += float64(ch % 17)
	}
	return base
}

func getStockHist(symbol, start, end string) (map[string]any, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	base := seriesBase(symbol)
	bars := 60
	open := make([]float64, bars)
	high := make([]float64, bars)
	low := make([]float64, bars)
	closes := make([]float64, bars)
	volume := make([]float64, bars)
	price := base
	for i := 0; i < bars; i++ {
		drift := math.Sin(float64(i)/5) * base * 0.01
		open[i] = price
		closes[i] = price + drift
		high[i] = math.Max(open[i], closes[i]) + base*0.005
		low[i] = math.Min(open[i], closes[i]) - base*0.005
		volume[i] = 1e6 + float64((i*7919)%500000)
		price = closes[i]
	}
	return map[string]any{
		"symbol": symbol, "Open": open, "High": high,
		"Low": low, "Close": closes, "Volume": volume,
	}, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	v, err := getStockHist(a.Symbol, a.Start, a.End)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := getStockHist("AAPL", "2023-01-01", "2023-12-31")
	if err != nil {
		return err
	}
	closes, ok := v["Close"].([]float64)
	if !ok || len(closes) == 0 {
		return errors.New("missing close series")
	}
	return nil
}
`

const bootstrapFinancialInfo = `//tool:name get_financial_info
package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

type args struct {
	Symbol string ` + "`json:\"symbol\"`" + `
	Period string ` + "`json:\"period\"`" + `
}

func getFinancialInfo(symbol, period string) (map[string]float64, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	base := 50.0
	for _, ch := range symbol {
		base += float64(ch % 17)
	}
	return map[string]float64{
		"net_income": base * 1e8,
		"revenue":    base * 5e8,
		"eps":        base / 20,
	}, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	v, err := getFinancialInfo(a.Symbol, a.Period)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := getFinancialInfo("AAPL", "annual")
	if err != nil {
		return err
	}
	if v["net_income"] <= 0 {
		return errors.New("net income must be positive")
	}
	return nil
}
`

const bootstrapSpotPrice = `//tool:name get_spot_price
package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

type args struct {
	Symbol string ` + "`json:\"symbol\"`" + `
}

func getSpotPrice(symbol string) (float64, error) {
	if symbol == "" {
		return 0, errors.New("symbol is required")
	}
	price := 50.0
	for _, ch := range symbol {
		price += float64(ch % 17)
	}
	return price, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	v, err := getSpotPrice(a.Symbol)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := getSpotPrice("AAPL")
	if err != nil {
		return err
	}
	if v <= 0 {
		return errors.New("price must be positive")
	}
	return nil
}
`

const bootstrapIndexDaily = `//tool:name get_index_daily
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type args struct {
	Symbol string ` + "`json:\"symbol\"`" + `
	Start  string ` + "`json:\"start\"`" + `
	End    string ` + "`json:\"end\"`" + `
}

func getIndexDaily(symbol, start, end string) (map[string]any, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	base := 1000.0
	for _, ch := range symbol {
		base += float64(ch%23) * 10
	}
	bars := 60
	closes := make([]float64, bars)
	for i := 0; i < bars; i++ {
		closes[i] = base * (1 + 0.02*math.Sin(float64(i)/7))
	}
	return map[string]any{"symbol": symbol, "Close": closes}, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	v, err := getIndexDaily(a.Symbol, a.Start, a.End)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := getIndexDaily("^GSPC", "2023-01-01", "2023-12-31")
	if err != nil {
		return err
	}
	if _, ok := v["Close"]; !ok {
		return errors.New("missing close series")
	}
	return nil
}
`

const bootstrapEtfHist = `//tool:name get_etf_hist
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type args struct {
	Symbol string ` + "`json:\"symbol\"`" + `
	Start  string ` + "`json:\"start\"`" + `
	End    string ` + "`json:\"end\"`" + `
}

func getEtfHist(symbol, start, end string) (map[string]any, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	base := 100.0
	for _, ch := range symbol {
		base += float64(ch % 11)
	}
	bars := 60
	closes := make([]float64, bars)
	volume := make([]float64, bars)
	for i := 0; i < bars; i++ {
		closes[i] = base * (1 + 0.015*math.Cos(float64(i)/6))
		volume[i] = 5e5 + float64((i*104729)%250000)
	}
	return map[string]any{"symbol": symbol, "Close": closes, "Volume": volume}, nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	v, err := getEtfHist(a.Symbol, a.Start, a.End)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	v, err := getEtfHist("SPY", "2023-01-01", "2023-12-31")
	if err != nil {
		return err
	}
	if _, ok := v["Volume"]; !ok {
		return errors.New("missing volume series")
	}
	return nil
}
`
