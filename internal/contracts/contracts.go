// Package contracts defines typed output contracts for tool families and
// the mapping from benchmark tasks and free-text queries to contracts.
package contracts

import (
	"regexp"
	"strings"
)

// OutputType is the expected shape of a tool result.
type OutputType string

const (
	OutputNumeric OutputType = "numeric"
	OutputDict    OutputType = "dict"
	OutputTable   OutputType = "dataframe" // column-oriented table
	OutputList    OutputType = "list"
	OutputBoolean OutputType = "boolean"
	OutputString  OutputType = "string"
	OutputAny     OutputType = "any"
)

// Constraints bound a numeric output. Min/Max are inclusive; nil means
// unbounded on that side.
type Constraints struct {
	Min           *float64
	Max           *float64
	AllowNegative bool
}

// Contract describes the expected behavior of one tool family.
type Contract struct {
	ID          string
	Category    string
	Description string

	InputTypes     map[string]string
	RequiredInputs []string

	OutputType        OutputType
	OutputConstraints Constraints
	RequiredKeys      []string

	AllowNone bool
	AllowNaN  bool
}

func fp(v float64) *float64 { return &v }

// Catalog is the predefined contract set for the benchmark task families.
var Catalog = map[string]Contract{
	"fetch_financial": {
		ID: "fetch_financial", Category: "fetch",
		Description:       "Fetch financial statement data (net income, revenue, etc.)",
		InputTypes:        map[string]string{"symbol": "string", "period": "string"},
		RequiredInputs:    []string{"symbol"},
		OutputType:        OutputNumeric,
		OutputConstraints: Constraints{AllowNegative: true},
	},
	"fetch_quote": {
		ID: "fetch_quote", Category: "fetch",
		Description:       "Fetch real-time market quote",
		InputTypes:        map[string]string{"symbol": "string"},
		RequiredInputs:    []string{"symbol"},
		OutputType:        OutputNumeric,
		OutputConstraints: Constraints{Min: fp(0)},
	},
	"fetch_price": {
		ID: "fetch_price", Category: "fetch",
		Description:       "Fetch stock/ETF/index price data",
		InputTypes:        map[string]string{"symbol": "string", "start": "string", "end": "string"},
		RequiredInputs:    []string{"symbol"},
		OutputType:        OutputNumeric,
		OutputConstraints: Constraints{Min: fp(0)},
	},
	"fetch_ohlcv": {
		ID: "fetch_ohlcv", Category: "fetch",
		Description:    "Fetch OHLCV historical data",
		InputTypes:     map[string]string{"symbol": "string", "start": "string", "end": "string"},
		RequiredInputs: []string{"symbol"},
		OutputType:     OutputTable,
		RequiredKeys:   []string{"Open", "High", "Low", "Close", "Volume"},
	},
	"fetch_list": {
		ID: "fetch_list", Category: "fetch",
		Description:    "Fetch list data (dividends, etc.)",
		InputTypes:     map[string]string{"symbol": "string"},
		RequiredInputs: []string{"symbol"},
		OutputType:     OutputList,
	},

	"calc_rsi": {
		ID: "calc_rsi", Category: "calculation",
		Description:       "Calculate RSI indicator",
		InputTypes:        map[string]string{"prices": "list", "period": "int"},
		RequiredInputs:    []string{"prices"},
		OutputType:        OutputNumeric,
		OutputConstraints: Constraints{Min: fp(0), Max: fp(100)},
	},
	"calc_ma": {
		ID: "calc_ma", Category: "calculation",
		Description:       "Calculate moving average",
		InputTypes:        map[string]string{"prices": "list", "window": "int"},
		RequiredInputs:    []string{"prices"},
		OutputType:        OutputNumeric,
		OutputConstraints: Constraints{Min: fp(0)},
	},
	"calc_bollinger": {
		ID: "calc_bollinger", Category: "calculation",
		Description:    "Calculate Bollinger Bands",
		InputTypes:     map[string]string{"prices": "list", "window": "int", "num_std": "float"},
		RequiredInputs: []string{"prices"},
		OutputType:     OutputDict,
		RequiredKeys:   []string{"upper", "middle", "lower"},
	},
	"calc_macd": {
		ID: "calc_macd", Category: "calculation",
		Description:    "Calculate MACD indicator",
		InputTypes:     map[string]string{"prices": "list", "fast_period": "int", "slow_period": "int", "signal_period": "int"},
		RequiredInputs: []string{"prices"},
		OutputType:     OutputDict,
		RequiredKeys:   []string{"macd", "signal", "histogram"},
	},
	"calc_volatility": {
		ID: "calc_volatility", Category: "calculation",
		Description:       "Calculate price volatility",
		InputTypes:        map[string]string{"prices": "list", "window": "int"},
		RequiredInputs:    []string{"prices"},
		OutputType:        OutputNumeric,
		OutputConstraints: Constraints{Min: fp(0)},
	},
	"calc_kdj": {
		ID: "calc_kdj", Category: "calculation",
		Description:    "Calculate KDJ indicator",
		InputTypes:     map[string]string{"high": "list", "low": "list", "close": "list", "k_period": "int", "d_period": "int"},
		RequiredInputs: []string{"high", "low", "close"},
		OutputType:     OutputDict,
		RequiredKeys:   []string{"k", "d", "j"},
	},
	"calc_drawdown": {
		ID: "calc_drawdown", Category: "calculation",
		Description:       "Calculate maximum drawdown",
		InputTypes:        map[string]string{"prices": "list"},
		RequiredInputs:    []string{"prices"},
		OutputType:        OutputNumeric,
		OutputConstraints: Constraints{Min: fp(0), Max: fp(1)},
	},
	"calc_correlation": {
		ID: "calc_correlation", Category: "calculation",
		Description:       "Calculate correlation between two price series",
		InputTypes:        map[string]string{"prices1": "list", "prices2": "list"},
		RequiredInputs:    []string{"prices1", "prices2"},
		OutputType:        OutputNumeric,
		OutputConstraints: Constraints{Min: fp(-1), Max: fp(1)},
	},

	"comp_signal": {
		ID: "comp_signal", Category: "composite",
		Description:    "Generate trading signal based on conditions",
		InputTypes:     map[string]string{"prices": "list"},
		RequiredInputs: []string{"prices"},
		OutputType:     OutputBoolean,
	},
	"comp_divergence": {
		ID: "comp_divergence", Category: "composite",
		Description:    "Detect volume-price divergence",
		InputTypes:     map[string]string{"prices": "list", "volumes": "list"},
		RequiredInputs: []string{"prices", "volumes"},
		OutputType:     OutputBoolean,
	},
	"comp_portfolio": {
		ID: "comp_portfolio", Category: "composite",
		Description:       "Calculate portfolio return",
		InputTypes:        map[string]string{"symbols": "list", "weights": "list"},
		RequiredInputs:    []string{"symbols"},
		OutputType:        OutputNumeric,
		OutputConstraints: Constraints{AllowNegative: true},
	},
	"comp_conditional_return": {
		ID: "comp_conditional_return", Category: "composite",
		Description:       "Calculate conditional return (after signal)",
		InputTypes:        map[string]string{"prices": "list", "signal_threshold": "float"},
		RequiredInputs:    []string{"prices"},
		OutputType:        OutputNumeric,
		OutputConstraints: Constraints{AllowNegative: true},
	},
}

// TaskMapping associates benchmark task IDs with contracts.
var TaskMapping = map[string]string{
	"fetch_001": "fetch_financial",
	"fetch_002": "fetch_quote",
	"fetch_003": "fetch_financial",
	"fetch_004": "fetch_price",
	"fetch_005": "fetch_price",
	"fetch_006": "fetch_financial",
	"fetch_007": "fetch_list",
	"fetch_008": "fetch_price",

	"calc_001": "calc_rsi",
	"calc_002": "calc_ma",
	"calc_003": "calc_bollinger",
	"calc_004": "calc_macd",
	"calc_005": "calc_volatility",
	"calc_006": "calc_kdj",
	"calc_007": "calc_drawdown",
	"calc_008": "calc_correlation",

	"comp_001": "comp_signal",
	"comp_002": "comp_divergence",
	"comp_003": "comp_portfolio",
	"comp_004": "comp_conditional_return",
}

// ForTask resolves a task ID to its contract, nil when unmapped.
func ForTask(taskID string) *Contract {
	id, ok := TaskMapping[taskID]
	if !ok {
		return nil
	}
	return ByID(id)
}

// ByID looks up a contract by its identifier.
func ByID(contractID string) *Contract {
	c, ok := Catalog[contractID]
	if !ok {
		return nil
	}
	return &c
}

// maWord matches MA as a standalone token so "macd" and "maximum" do
// not route to the moving-average contract.
var maWord = regexp.MustCompile(`(?i)\b(?:ma|sma|ema)\b`)

// InferFromQuery picks a contract from keywords in a free-text query.
// Returns nil when nothing matches.
func InferFromQuery(query, category string) *Contract {
	q := strings.ToLower(query)
	contains := func(kws ...string) bool {
		for _, kw := range kws {
			if strings.Contains(q, kw) {
				return true
			}
		}
		return false
	}

	switch category {
	case "fetch":
		switch {
		case contains("net income", "revenue", "earnings", "profit"):
			return ByID("fetch_financial")
		case contains("quote", "real-time", "realtime"):
			return ByID("fetch_quote")
		case contains("dividend"):
			return ByID("fetch_list")
		default:
			return ByID("fetch_price")
		}
	case "calculation":
		switch {
		case contains("rsi"):
			return ByID("calc_rsi")
		case contains("macd"):
			return ByID("calc_macd")
		case contains("moving average") || maWord.MatchString(q):
			return ByID("calc_ma")
		case contains("bollinger"):
			return ByID("calc_bollinger")
		case contains("volatility"):
			return ByID("calc_volatility")
		case contains("kdj"):
			return ByID("calc_kdj")
		case contains("drawdown"):
			return ByID("calc_drawdown")
		case contains("correlation"):
			return ByID("calc_correlation")
		}
	case "composite":
		switch {
		case contains("signal", "if ", "return true", "return false"):
			return ByID("comp_signal")
		case contains("divergence"):
			return ByID("comp_divergence")
		case contains("portfolio"):
			return ByID("comp_portfolio")
		case contains("after") && contains("rsi", "return"):
			return ByID("comp_conditional_return")
		}
	}
	return nil
}
