package refund

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hmcts/refunds-api/internal/client/notify"
)

func seedExpiredRefund(t *testing.T, repo *fakeRepo, reference string, reissueOf *string) *Refund {
	t.Helper()
	refund := &Refund{
		Reference:        reference,
		PaymentReference: testPaymentRef,
		FeeID:            testFeeID,
		FeeAmount:        decimal.NewFromInt(300),
		Amount:           decimal.NewFromInt(90),
		Reason:           "Amended claim",
		Status:           StatusExpired,
		ReissueOf:        reissueOf,
	}
	require.NoError(t, repo.Create(context.Background(), refund))
	require.NoError(t, repo.AppendHistory(context.Background(), &StatusHistory{
		RefundID: refund.ID,
		Status:   StatusExpired,
		Notes:    "Refund expired",
	}))
	return refund
}

func TestReissueEngine_Reissue_FullLifecycle(t *testing.T) {
	fx := newServiceFixture()
	fx.payments.On("GetPaymentGroup", mock.Anything, testPaymentRef).Return(testPaymentGroup(), nil)
	fx.reconciliation.On("SubmitRefund", mock.Anything, mock.Anything).Return(nil)
	fx.notify.On("SendRefundNotification", mock.Anything, mock.Anything).Return(nil)

	original := submitRefund(t, fx, 90)

	// Approve, accept, reverse with a non-card-failure reason, accept again,
	// then let the cheque expire.
	_, err := fx.service.Review(context.Background(), original.Reference, EventApprove, &ReviewRequest{}, "leader-1")
	require.NoError(t, err)
	for _, update := range []ProviderUpdateRequest{
		{Status: "accepted"},
		{Status: "rejected", Reason: "card declined"},
		{Status: "accepted"},
		{Status: "expired"},
	} {
		u := update
		_, err = fx.service.ProviderStatusUpdate(context.Background(), original.Reference, &u)
		require.NoError(t, err)
	}

	successor, err := fx.engine.Reissue(context.Background(), original.Reference, "caseworker-2")
	require.NoError(t, err)

	closed, err := fx.repo.GetByReferenceWithHistory(context.Background(), original.Reference)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.ReissuedBy)
	assert.Equal(t, successor.Reference, *closed.ReissuedBy)

	require.Len(t, closed.History, 8)
	notes := make([]string, 0, len(closed.History))
	for _, h := range closed.History {
		notes = append(notes, h.Notes)
	}
	assert.Equal(t, []string{
		NoteClosed,
		"Refund expired",
		"Refund accepted",
		"card declined",
		"Refund accepted",
		NoteSentToMiddleOffice,
		NoteApproved,
		NoteSubmitted,
	}, notes)
	assert.Equal(t, closed.Status, closed.History[0].Status)

	reissued, err := fx.repo.GetByReferenceWithHistory(context.Background(), successor.Reference)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, reissued.Status)
	require.NotNil(t, reissued.ReissueOf)
	assert.Equal(t, original.Reference, *reissued.ReissueOf)
	assert.True(t, reissued.Amount.Equal(decimal.NewFromInt(90)))

	require.Len(t, reissued.History, 2)
	assert.Equal(t, ReissueNote(1, original.Reference), reissued.History[0].Notes)
	assert.Equal(t, NoteApproved, reissued.History[1].Notes)
	assert.Equal(t, StatusApproved, reissued.History[0].Status)
	assert.Equal(t, StatusApproved, reissued.History[1].Status)
}

func TestReissueEngine_Reissue_SendsReissueNotification(t *testing.T) {
	fx := newServiceFixture()
	fx.payments.On("GetPaymentGroup", mock.Anything, testPaymentRef).Return(testPaymentGroup(), nil)

	var sent []notify.Notification
	fx.notify.On("SendRefundNotification", mock.Anything, mock.MatchedBy(func(n notify.Notification) bool {
		sent = append(sent, n)
		return true
	})).Return(nil)

	original := seedExpiredRefund(t, fx.repo, "RF-1111-1111-1111-1111", nil)

	successor, err := fx.engine.Reissue(context.Background(), original.Reference, "caseworker-2")
	require.NoError(t, err)

	require.Len(t, sent, 1)
	assert.Equal(t, notify.KindRefundReissued, sent[0].Kind)
	assert.Equal(t, successor.Reference, sent[0].RefundReference)
	assert.Equal(t, 1, sent[0].Ordinal)
	assert.Equal(t, "claimant@example.com", sent[0].Destination.Email)
}

func TestReissueEngine_Reissue_OnlyExpiredUnreissued(t *testing.T) {
	fx := newServiceFixture()
	fx.payments.On("GetPaymentGroup", mock.Anything, testPaymentRef).Return(testPaymentGroup(), nil)
	fx.notify.On("SendRefundNotification", mock.Anything, mock.Anything).Return(nil)

	// Not yet expired.
	pending := submitRefund(t, fx, 90)
	_, err := fx.engine.Reissue(context.Background(), pending.Reference, "caseworker-2")
	require.ErrorIs(t, err, ErrInvalidReissueRequest)
	assert.EqualError(t, err, "There was a problem processing the supplied refund reference.")

	// Already reissued: the original is closed, a second attempt must fail.
	original := seedExpiredRefund(t, fx.repo, "RF-1111-1111-1111-1111", nil)
	_, err = fx.engine.Reissue(context.Background(), original.Reference, "caseworker-2")
	require.NoError(t, err)
	_, err = fx.engine.Reissue(context.Background(), original.Reference, "caseworker-2")
	assert.ErrorIs(t, err, ErrInvalidReissueRequest)
}

func TestReissueEngine_Reissue_ChainOrdinalUsesRootReference(t *testing.T) {
	fx := newServiceFixture()
	fx.payments.On("GetPaymentGroup", mock.Anything, testPaymentRef).Return(testPaymentGroup(), nil)
	fx.notify.On("SendRefundNotification", mock.Anything, mock.Anything).Return(nil)

	root := "RF-1111-1111-1111-1111"
	closedBy := "RF-2222-2222-2222-2222"
	require.NoError(t, fx.repo.Create(context.Background(), &Refund{
		Reference:        root,
		PaymentReference: testPaymentRef,
		FeeID:            testFeeID,
		FeeAmount:        decimal.NewFromInt(300),
		Amount:           decimal.NewFromInt(90),
		Status:           StatusClosed,
		ReissuedBy:       &closedBy,
	}))
	first := seedExpiredRefund(t, fx.repo, closedBy, &root)

	second, err := fx.engine.Reissue(context.Background(), first.Reference, "caseworker-2")
	require.NoError(t, err)
	assert.Equal(t, first.Reason, second.Reason)

	history, err := fx.repo.ListHistory(context.Background(), second.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ReissueNote(2, root), history[0].Notes)
}

func TestReissueEngine_Reissue_RollsBackWhenSuccessorCreateFails(t *testing.T) {
	fx := newServiceFixture()

	original := seedExpiredRefund(t, fx.repo, "RF-1111-1111-1111-1111", nil)
	fx.repo.failNextCreate = errors.New("disk full")

	_, err := fx.engine.Reissue(context.Background(), original.Reference, "caseworker-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// The close must have been rolled back with the failed create.
	refund, getErr := fx.repo.GetByReferenceWithHistory(context.Background(), original.Reference)
	require.NoError(t, getErr)
	assert.Equal(t, StatusExpired, refund.Status)
	assert.Nil(t, refund.ReissuedBy)
	assert.Len(t, refund.History, 1)

	refunds, listErr := fx.repo.ListByPayment(context.Background(), testPaymentRef)
	require.NoError(t, listErr)
	assert.Len(t, refunds, 1)
}

func TestService_Submit_AfterReissueCountsSuccessorOnly(t *testing.T) {
	fx := newServiceFixture()
	fx.payments.On("GetPaymentGroup", mock.Anything, testPaymentRef).Return(testPaymentGroup(), nil)
	fx.notify.On("SendRefundNotification", mock.Anything, mock.Anything).Return(nil)

	original := seedExpiredRefund(t, fx.repo, "RF-1111-1111-1111-1111", nil)
	_, err := fx.engine.Reissue(context.Background(), original.Reference, "caseworker-2")
	require.NoError(t, err)

	// The closed original no longer counts against the fee; only the
	// approved successor's 90 does, leaving 210 of the 300 fee.
	refund, err := fx.service.Submit(context.Background(), &SubmitRequest{
		PaymentReference: testPaymentRef,
		FeeID:            testFeeID,
		Amount:           decimal.NewFromInt(210),
		Reason:           "RR001",
	}, "caseworker-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSentForApproval, refund.Status)

	_, err = fx.service.Submit(context.Background(), &SubmitRequest{
		PaymentReference: testPaymentRef,
		FeeID:            testFeeID,
		Amount:           decimal.NewFromInt(1),
		Reason:           "RR001",
	}, "caseworker-1")
	require.ErrorIs(t, err, ErrInvalidRefundRequest)
	assert.Contains(t, err.Error(), "£0.00")
}
