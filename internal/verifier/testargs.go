package verifier

import (
	"strings"

	"github.com/zeussilver/insitu-finance-agent/internal/contracts"
)

// Deterministic OHLCV fixtures used to exercise calculation tools during
// contract verification. Twenty bars of a mildly trending series.
var (
	samplePrices = []float64{
		100.0, 101.5, 99.8, 102.3, 101.0, 103.5, 102.8, 104.0, 103.2, 105.0,
		104.5, 106.0, 105.2, 107.0, 106.5, 108.0, 107.2, 109.0, 108.5, 110.0,
	}
	sampleHigh = []float64{
		101.0, 102.5, 100.8, 103.3, 102.0, 104.5, 103.8, 105.0, 104.2, 106.0,
		105.5, 107.0, 106.2, 108.0, 107.5, 109.0, 108.2, 110.0, 109.5, 111.0,
	}
	sampleLow = []float64{
		99.0, 100.5, 98.8, 101.3, 100.0, 102.5, 101.8, 103.0, 102.2, 104.0,
		103.5, 105.0, 104.2, 106.0, 105.5, 107.0, 106.2, 108.0, 107.5, 109.0,
	}
	sampleVolumes = []float64{
		1000000, 1100000, 950000, 1200000, 1050000, 1150000, 1000000, 1250000, 1100000, 1300000,
		1050000, 1200000, 980000, 1150000, 1020000, 1180000, 1050000, 1220000, 1000000, 1280000,
	}
)

// GenerateTestArgs builds arguments for a contract verification run from
// the contract's declared input types, preferring well-known parameter
// names over type-based fallbacks.
func GenerateTestArgs(contract *contracts.Contract) map[string]any {
	args := make(map[string]any, len(contract.InputTypes))
	for name, typ := range contract.InputTypes {
		args[name] = sampleValue(name, typ)
	}
	return args
}

func sampleValue(name, typ string) any {
	switch strings.ToLower(name) {
	case "prices", "close", "prices1":
		return samplePrices
	case "prices2", "high":
		return sampleHigh
	case "low":
		return sampleLow
	case "volume", "volumes":
		return sampleVolumes
	case "symbol":
		return "AAPL"
	case "symbols":
		return []string{"AAPL", "MSFT", "GOOGL"}
	case "start", "start_date":
		return "2023-01-01"
	case "end", "end_date":
		return "2023-12-31"
	case "period":
		return 14
	case "window":
		return 20
	case "fast_period", "short_period":
		return 12
	case "slow_period", "long_period":
		return 26
	case "signal_period":
		return 9
	case "k_period":
		return 9
	case "d_period":
		return 3
	case "num_std":
		return 2.0
	case "weights":
		return []float64{0.33, 0.33, 0.34}
	case "signal_threshold":
		return 70.0
	}

	switch typ {
	case "int":
		return 14
	case "float":
		return 2.0
	case "string":
		return "default"
	case "list":
		return samplePrices
	case "bool":
		return true
	}
	return nil
}
