package toolsrc

import (
	"regexp"
	"strings"
)

// indicatorKeywords maps query keywords (English and Chinese) to the
// canonical indicator tag used for warm-start lookup.
var indicatorKeywords = []struct {
	indicator string
	keywords  []string
}{
	{"rsi", []string{"rsi", "relative strength", "相对强弱"}},
	{"macd", []string{"macd", "指数平滑异同"}},
	{"bollinger", []string{"bollinger", "布林"}},
	{"kdj", []string{"kdj", "stochastic", "随机指标"}},
	{"ma", []string{"moving average", "均线"}},
	{"volatility", []string{"volatility", "波动率", "标准差"}},
	{"drawdown", []string{"drawdown", "回撤"}},
	{"correlation", []string{"correlation", "相关性", "相关系数"}},
	{"volume_price", []string{"divergence", "volume-price", "量价"}},
	{"portfolio", []string{"portfolio", "投资组合", "组合"}},
}

// maWord matches MA as a standalone token so "macd" and "maximum" do
// not tag as a moving average.
var maWord = regexp.MustCompile(`(?i)\b(?:ma|sma|ema)\b`)

// InferIndicator tags a query with its indicator, empty when none match.
func InferIndicator(query string) string {
	q := strings.ToLower(query)
	for _, entry := range indicatorKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(q, kw) {
				return entry.indicator
			}
		}
	}
	if maWord.MatchString(q) {
		return "ma"
	}
	return ""
}

// InferDataType classifies the data a query's tool consumes.
func InferDataType(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "net income") || strings.Contains(q, "revenue") ||
		strings.Contains(q, "earnings") || strings.Contains(q, "financial") ||
		strings.Contains(q, "净利润") || strings.Contains(q, "营收"):
		return "financial"
	case strings.Contains(q, "volume") || strings.Contains(q, "成交量"):
		return "volume"
	case strings.Contains(q, "ohlcv") || strings.Contains(q, "candlestick") ||
		strings.Contains(q, "k线"):
		return "ohlcv"
	default:
		return "price"
	}
}

// InferCategory classifies a task query as fetch, calculation, or
// composite. Conditional and signal wording marks a composite; data
// retrieval wording marks a fetch; everything else is a calculation.
func InferCategory(query string) string {
	q := strings.ToLower(query)
	contains := func(kws ...string) bool {
		for _, kw := range kws {
			if strings.Contains(q, kw) {
				return true
			}
		}
		return false
	}
	switch {
	case contains("if ", "when ", "signal", "divergence", "portfolio",
		"return true", "return false", "如果", "信号", "背离"):
		return "composite"
	case contains("fetch", "get ", "retrieve", "download", "query",
		"net income", "revenue", "dividend", "quote", "获取", "查询"):
		return "fetch"
	default:
		return "calculation"
	}
}
