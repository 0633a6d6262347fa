// Package money holds the fixed-point arithmetic used for invoice and receipt
// amounts. Every rounding goes through Round so the policy stays uniform.
package money

import (
	"github.com/shopspring/decimal"
)

// Places is the number of decimal places kept on every stored amount.
const Places = 2

// Round rounds to two places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// VAT computes round(subtotal × rate).
func VAT(subtotal, rate decimal.Decimal) decimal.Decimal {
	return Round(subtotal.Mul(rate))
}

// Sum adds amounts and rounds the result.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return Round(total)
}

// Breakdown is the derived amount set of an invoice.
type Breakdown struct {
	Subtotal  decimal.Decimal
	VATAmount decimal.Decimal
	Total     decimal.Decimal
}

// Totals derives subtotal, VAT and total from the line totals.
func Totals(lineTotals []decimal.Decimal, rate decimal.Decimal) Breakdown {
	subtotal := Sum(lineTotals...)
	vat := VAT(subtotal, rate)
	return Breakdown{
		Subtotal:  subtotal,
		VATAmount: vat,
		Total:     subtotal.Add(vat),
	}
}

// ValidRate reports whether rate is a fraction in [0, 1].
func ValidRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(decimal.NewFromInt(1))
}

// Format renders an amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
