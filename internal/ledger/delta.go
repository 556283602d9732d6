package ledger

import (
	"finance_ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// Delta returns the signed effect of a transaction on its owner's balance.
// Income adds, expense subtracts, and reversal negates the result.
func Delta(t domain.TransactionType, amount decimal.Decimal, reversal bool) decimal.Decimal {
	d := amount
	if t != domain.TypeIncome {
		d = amount.Neg()
	}
	if reversal {
		return d.Neg()
	}
	return d
}

// updateDelta returns the balance adjustment implied by changing a transaction
// from (oldType, oldAmount) to (newType, newAmount).
func updateDelta(oldType domain.TransactionType, oldAmount decimal.Decimal, newType domain.TransactionType, newAmount decimal.Decimal) decimal.Decimal {
	switch {
	case oldType != newType:
		// Flip: undo the old contribution in full, then apply the new one
		return Delta(oldType, oldAmount, true).Add(Delta(newType, newAmount, false))
	case !oldAmount.Equal(newAmount):
		// Same direction, only the difference moves the balance
		return Delta(newType, newAmount.Sub(oldAmount), false)
	default:
		return decimal.Zero
	}
}
