package refund

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLedgerRefund(t *testing.T, repo *fakeRepo, reference string, amount int64, status RefundStatus) {
	t.Helper()
	err := repo.Create(context.Background(), &Refund{
		Reference:        reference,
		PaymentReference: testPaymentRef,
		FeeID:            testFeeID,
		FeeAmount:        decimal.NewFromInt(300),
		Amount:           decimal.NewFromInt(amount),
		Status:           status,
	})
	require.NoError(t, err)
}

func TestLedger_RemainingAmount(t *testing.T) {
	repo := newFakeRepo()
	ledger := NewLedger(repo)
	feeAmount := decimal.NewFromInt(300)

	seedLedgerRefund(t, repo, "RF-1111-1111-1111-1111", 120, StatusApproved)
	seedLedgerRefund(t, repo, "RF-2222-2222-2222-2222", 80, StatusSentForApproval)

	remaining, err := ledger.RemainingAmount(context.Background(), testPaymentRef, testFeeID, feeAmount, "")
	require.NoError(t, err)
	assert.True(t, remaining.Equal(decimal.NewFromInt(100)), "remaining = %s", remaining)
}

func TestLedger_RemainingAmount_IgnoresVoidedRefunds(t *testing.T) {
	repo := newFakeRepo()
	ledger := NewLedger(repo)
	feeAmount := decimal.NewFromInt(300)

	seedLedgerRefund(t, repo, "RF-1111-1111-1111-1111", 120, StatusRejected)
	seedLedgerRefund(t, repo, "RF-2222-2222-2222-2222", 80, StatusCancelled)
	seedLedgerRefund(t, repo, "RF-3333-3333-3333-3333", 90, StatusClosed)
	seedLedgerRefund(t, repo, "RF-4444-4444-4444-4444", 50, StatusAccepted)

	remaining, err := ledger.RemainingAmount(context.Background(), testPaymentRef, testFeeID, feeAmount, "")
	require.NoError(t, err)
	assert.True(t, remaining.Equal(decimal.NewFromInt(250)), "remaining = %s", remaining)
}

func TestLedger_RemainingAmount_ExcludesOwnReference(t *testing.T) {
	repo := newFakeRepo()
	ledger := NewLedger(repo)
	feeAmount := decimal.NewFromInt(300)

	seedLedgerRefund(t, repo, "RF-1111-1111-1111-1111", 120, StatusNeedMoreInfo)
	seedLedgerRefund(t, repo, "RF-2222-2222-2222-2222", 80, StatusApproved)

	// Re-validation during resubmit discounts the refund's own amount, so a
	// sent-back refund can be amended up to the full remaining balance.
	remaining, err := ledger.RemainingAmount(context.Background(), testPaymentRef, testFeeID, feeAmount, "RF-1111-1111-1111-1111")
	require.NoError(t, err)
	assert.True(t, remaining.Equal(decimal.NewFromInt(220)), "remaining = %s", remaining)
}

func TestLedger_CheckAmount(t *testing.T) {
	repo := newFakeRepo()
	ledger := NewLedger(repo)
	feeAmount := decimal.NewFromInt(300)

	seedLedgerRefund(t, repo, "RF-1111-1111-1111-1111", 200, StatusApproved)

	err := ledger.CheckAmount(context.Background(), testPaymentRef, testFeeID, feeAmount, decimal.NewFromInt(100), "")
	assert.NoError(t, err)

	err = ledger.CheckAmount(context.Background(), testPaymentRef, testFeeID, feeAmount, decimal.NewFromInt(101), "")
	require.ErrorIs(t, err, ErrInvalidRefundRequest)
	assert.Contains(t, err.Error(), "remaining amount is £100.00")
}

func TestLedger_CheckAmount_RejectsNonPositive(t *testing.T) {
	repo := newFakeRepo()
	ledger := NewLedger(repo)
	feeAmount := decimal.NewFromInt(300)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		err := ledger.CheckAmount(context.Background(), testPaymentRef, testFeeID, feeAmount, amount, "")
		require.ErrorIs(t, err, ErrInvalidRefundRequest)
		assert.Contains(t, err.Error(), "greater than zero")
	}
}
