package refund

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Ledger computes how much refundable amount remains on a fee given all
// refunds that still count against it. It must be evaluated under the
// per-(payment, fee) submission lock so two concurrent submissions cannot
// both observe a stale remaining amount.
type Ledger struct {
	repo Repository
}

// NewLedger creates an amount ledger backed by the refund repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// RemainingAmount returns feeAmount minus the sum of all non-voided refund
// amounts for the fee. excludeReference removes one refund's own amount
// from the sum, for re-validation during resubmit.
func (l *Ledger) RemainingAmount(ctx context.Context, paymentReference string, feeID int64, feeAmount decimal.Decimal, excludeReference string) (decimal.Decimal, error) {
	active, err := l.repo.SumActiveAmount(ctx, paymentReference, feeID, excludeReference)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum active refunds: %w", err)
	}
	return feeAmount.Sub(active), nil
}

// CheckAmount validates a requested amount against the ledger. The error
// message embeds the exact remaining amount so callers can surface it.
func (l *Ledger) CheckAmount(ctx context.Context, paymentReference string, feeID int64, feeAmount, requested decimal.Decimal, excludeReference string) error {
	if requested.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: refund amount must be greater than zero", ErrInvalidRefundRequest)
	}

	remaining, err := l.RemainingAmount(ctx, paymentReference, feeID, feeAmount, excludeReference)
	if err != nil {
		return err
	}
	if requested.GreaterThan(remaining) {
		return fmt.Errorf("%w: the amount you want to refund is more than the amount left to be refunded, remaining amount is £%s",
			ErrInvalidRefundRequest, remaining.StringFixed(2))
	}
	return nil
}
