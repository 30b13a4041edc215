package payments

import "github.com/shopspring/decimal"

var (
	feeRate  = decimal.RequireFromString("0.029")
	feeFixed = decimal.RequireFromString("0.30")
)

// Quote is the charge for a booking.
type Quote struct {
	Subtotal decimal.Decimal
	Fee      decimal.Decimal
	Total    decimal.Decimal
}

// Fee is the processing fee on a subtotal: 2.9% + 0.30, rounded half-up
// to cents.
func Fee(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(feeRate).Add(feeFixed).Round(2)
}

func QuoteFor(unitPrice decimal.Decimal, quantity int) Quote {
	subtotal := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	fee := Fee(subtotal)
	return Quote{Subtotal: subtotal, Fee: fee, Total: subtotal.Add(fee)}
}

// MinorUnits converts an amount to integer cents for the wire.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
