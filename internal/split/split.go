// internal/split/split.go
package split

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Configuration errors. Either one means the run must stop and the operator
// has to fix the input; there is no safe way to split with a bad ratio.
var (
	ErrInvalidRatio  = fmt.Errorf("split ratio must be strictly between 0 and 1")
	ErrInvalidAmount = fmt.Errorf("bill amount must be positive")
)

var one = decimal.NewFromInt(1)

// Portions splits amount between two parties at the given ratio for party A.
// Party A's share is rounded to cents; party B's share is the exact remainder,
// so the two portions always sum back to amount with no lost cent.
func Portions(amount, ratioA decimal.Decimal) (partyA, partyB decimal.Decimal, err error) {
	if ratioA.LessThanOrEqual(decimal.Zero) || ratioA.GreaterThanOrEqual(one) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ratio %s: %w", ratioA, ErrInvalidRatio)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("amount %s: %w", amount, ErrInvalidAmount)
	}

	partyA = amount.Mul(ratioA).Round(2)
	partyB = amount.Sub(partyA)
	return partyA, partyB, nil
}
