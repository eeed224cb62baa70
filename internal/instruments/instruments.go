// Package instruments classifies traded symbols and computes margin.
package instruments

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MinLeverage = 1
	MaxLeverage = 1000
)

// MoneyScale is the number of fractional digits kept for money amounts. It
// matches the numeric(28, 8) columns of the postgres store.
const MoneyScale = 8

// Money rounds an amount to MoneyScale.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

type Class string

const (
	ClassFX     Class = "fx"
	ClassMetal  Class = "metal"
	ClassCrypto Class = "crypto"
	ClassIndex  Class = "index"
)

var (
	goldContractSize    = decimal.NewFromInt(100)
	silverContractSize  = decimal.NewFromInt(5000)
	cryptoContractSize  = decimal.NewFromInt(1)
	defaultContractSize = decimal.NewFromInt(100000)
)

var cryptoBases = map[string]struct{}{
	"BTC": {}, "ETH": {}, "LTC": {}, "XRP": {}, "BCH": {},
	"ADA": {}, "DOT": {}, "SOL": {}, "DOGE": {}, "BNB": {},
}

var indexSymbols = map[string]struct{}{
	"US30": {}, "US100": {}, "US500": {}, "NAS100": {}, "SPX500": {},
	"GER40": {}, "UK100": {}, "JP225": {}, "FRA40": {}, "AUS200": {},
}

func Normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "-", "")
}

func isCrypto(s string) bool {
	for _, quote := range []string{"USDT", "USD"} {
		if base, ok := strings.CutSuffix(s, quote); ok {
			if _, known := cryptoBases[base]; known {
				return true
			}
		}
	}
	return false
}

func Classify(symbol string) Class {
	s := Normalize(symbol)
	switch {
	case strings.HasPrefix(s, "XAU"), strings.HasPrefix(s, "XAG"):
		return ClassMetal
	case isCrypto(s):
		return ClassCrypto
	}
	if _, ok := indexSymbols[s]; ok {
		return ClassIndex
	}
	return ClassFX
}

// ContractSize is prefix based: gold 100, silver 5000, whitelisted crypto 1,
// everything else 100000.
func ContractSize(symbol string) decimal.Decimal {
	s := Normalize(symbol)
	switch {
	case strings.HasPrefix(s, "XAU"):
		return goldContractSize
	case strings.HasPrefix(s, "XAG"):
		return silverContractSize
	case isCrypto(s):
		return cryptoContractSize
	}
	return defaultContractSize
}

// PricePrecision is the number of quote decimals used for display.
func PricePrecision(symbol string) int32 {
	s := Normalize(symbol)
	switch Classify(s) {
	case ClassMetal, ClassCrypto:
		return 2
	case ClassIndex:
		return 1
	}
	if strings.HasSuffix(s, "JPY") {
		return 3
	}
	return 5
}

// ClampLeverage falls back to the account default for non-positive input and
// clamps the result to [MinLeverage, MaxLeverage].
func ClampLeverage(requested, accountDefault int) int {
	lev := requested
	if lev <= 0 {
		lev = accountDefault
	}
	if lev < MinLeverage {
		lev = MinLeverage
	}
	if lev > MaxLeverage {
		lev = MaxLeverage
	}
	return lev
}

// RequiredMargin = lot × contractSize × price / leverage, rounded to
// MoneyScale. Callers pass the leverage stored on the position so open and
// close agree.
func RequiredMargin(lot, price decimal.Decimal, leverage int, symbol string) decimal.Decimal {
	lev := ClampLeverage(leverage, MinLeverage)
	return Money(Notional(lot, price, symbol).Div(decimal.NewFromInt(int64(lev))))
}

func Notional(lot, price decimal.Decimal, symbol string) decimal.Decimal {
	return lot.Mul(ContractSize(symbol)).Mul(price)
}
