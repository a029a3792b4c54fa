package model

import (
	"math"

	"github.com/shopspring/decimal"
)

// Rounding and tolerance rules shared by every settlement computation.
// Tonnage is carried as float64 rounded to TonnagePrecision decimals;
// monetary amounts are decimal.Decimal rounded to CurrencyPrecision.
const (
	// TonnagePrecision is the number of decimals kept on tonnage figures.
	TonnagePrecision = 3

	// TonnageEpsilon absorbs float rounding when comparing tonnes.
	TonnageEpsilon = 1e-6

	// CurrencyPrecision is the number of decimals kept on monetary amounts.
	CurrencyPrecision = 2
)

// CurrencyTolerance absorbs rounding when comparing monetary amounts
// (0.01 currency units).
var CurrencyTolerance = decimal.New(1, -2)

// RoundTonnes rounds a tonnage figure to TonnagePrecision decimals.
func RoundTonnes(tn float64) float64 {
	factor := math.Pow(10, TonnagePrecision)
	return math.Round(tn*factor) / factor
}
