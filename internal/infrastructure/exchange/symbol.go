package exchange

import (
	"strings"
)

// SymbolConverter maps the canonical pair (e.g. BTCUSD) to a venue symbol and
// back.
type SymbolConverter interface {
	// Pair2Symbol 例: BTCUSD -> tBTCUSD
	Pair2Symbol(pair string) string
	// Symbol2Pair 例: tBTCUSD -> BTCUSD
	Symbol2Pair(symbol string) string
}

// CommonSymbolConverter 通用符号转换器：前缀 + 大小写
type CommonSymbolConverter struct {
	prefix string
	lower  bool
}

func NewCommonSymbolConverter(prefix string, lower bool) *CommonSymbolConverter {
	return &CommonSymbolConverter{prefix: prefix, lower: lower}
}

func (c *CommonSymbolConverter) Pair2Symbol(pair string) string {
	pair = strings.TrimSpace(pair)
	if pair == "" {
		return ""
	}
	if c.lower {
		pair = strings.ToLower(pair)
	} else {
		pair = strings.ToUpper(pair)
	}
	if strings.HasPrefix(pair, c.prefix) && c.prefix != "" {
		return pair
	}
	return c.prefix + pair
}

func (c *CommonSymbolConverter) Symbol2Pair(symbol string) string {
	sym := strings.TrimSpace(symbol)
	sym = strings.TrimPrefix(sym, c.prefix)
	return strings.ToUpper(sym)
}
