package refund

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hmcts/refunds-api/internal/client/notify"
	"github.com/hmcts/refunds-api/internal/shared/events"
	"github.com/hmcts/refunds-api/internal/shared/metrics"
)

// ReissueEngine closes an expired refund and creates its successor, and
// handles resubmission of sent-back refunds. It shares the workflow
// service's lock set so a reissue and a review on the same reference
// cannot interleave.
type ReissueEngine struct {
	repo     Repository
	sm       *StateMachine
	ledger   *Ledger
	locks    *Locks
	payments PaymentsClient
	notify   NotifyClient
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewReissueEngine creates the reissue engine.
func NewReissueEngine(
	repo Repository,
	sm *StateMachine,
	ledger *Ledger,
	locks *Locks,
	paymentsClient PaymentsClient,
	notifyClient NotifyClient,
	bus *events.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ReissueEngine {
	return &ReissueEngine{
		repo:     repo,
		sm:       sm,
		ledger:   ledger,
		locks:    locks,
		payments: paymentsClient,
		notify:   notifyClient,
		bus:      bus,
		metrics:  m,
		logger:   logger,
	}
}

// Reissue closes the expired refund and creates a successor that inherits
// its payment, fee, amount and reason, entering approved directly since the
// claim was already approved once. Close and create commit as one unit: if
// creating the successor fails, the original is not left closed.
func (e *ReissueEngine) Reissue(ctx context.Context, reference, actor string) (*Refund, error) {
	e.locks.refs.Lock(reference)
	defer e.locks.refs.Unlock(reference)

	original, err := e.repo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if original.Status != StatusExpired || original.ReissuedBy != nil {
		return nil, ErrInvalidReissueRequest
	}

	ordinal, rootReference, err := e.chainOrdinal(ctx, original)
	if err != nil {
		return nil, err
	}

	newReference, err := NewReference()
	if err != nil {
		return nil, err
	}

	successor := &Refund{
		Reference:        newReference,
		PaymentReference: original.PaymentReference,
		FeeID:            original.FeeID,
		FeeAmount:        original.FeeAmount,
		Amount:           original.Amount,
		Reason:           original.Reason,
		Status:           StatusApproved,
		CcdCaseNumber:    original.CcdCaseNumber,
		CreatedBy:        actor,
		UpdatedBy:        actor,
		ContactDetails:   original.ContactDetails,
		ReissueOf:        &original.Reference,
	}
	reissueNote := ReissueNote(ordinal, rootReference)

	err = e.repo.Transaction(ctx, func(txRepo Repository) error {
		original.Status = StatusClosed
		original.UpdatedBy = actor
		original.ReissuedBy = &newReference
		if err := txRepo.Update(ctx, original); err != nil {
			return fmt.Errorf("close refund %s: %w", reference, err)
		}
		if err := txRepo.AppendHistory(ctx, &StatusHistory{
			RefundID:  original.ID,
			Status:    StatusClosed,
			Notes:     NoteClosed,
			CreatedBy: actor,
		}); err != nil {
			return fmt.Errorf("append close history for %s: %w", reference, err)
		}

		if err := txRepo.Create(ctx, successor); err != nil {
			return fmt.Errorf("create successor of %s: %w", reference, err)
		}
		if err := txRepo.AppendHistory(ctx, &StatusHistory{
			RefundID:  successor.ID,
			Status:    StatusApproved,
			Notes:     NoteApproved,
			CreatedBy: actor,
		}); err != nil {
			return fmt.Errorf("append approval history for %s: %w", newReference, err)
		}
		return txRepo.AppendHistory(ctx, &StatusHistory{
			RefundID:  successor.ID,
			Status:    StatusApproved,
			Notes:     reissueNote,
			CreatedBy: actor,
		})
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RefundsReissued.Inc()
	e.bus.Publish(events.NewRefundReissuedEvent(successor.ID, original.Reference, newReference, ordinal))
	e.logger.Info("refund reissued",
		zap.String("original", original.Reference),
		zap.String("successor", newReference),
		zap.Int("ordinal", ordinal),
	)

	e.sendReissueNotification(ctx, successor, ordinal)
	return successor, nil
}

// chainOrdinal walks reissueOf links back to the root of the chain. The
// refund being reissued at depth d produces the (d+1)th re-issue of the
// root. The walk is bounded to guard against a corrupted cycle.
func (e *ReissueEngine) chainOrdinal(ctx context.Context, refund *Refund) (int, string, error) {
	const maxChain = 100

	current := refund
	depth := 0
	for current.ReissueOf != nil {
		if depth >= maxChain {
			return 0, "", fmt.Errorf("reissue chain for %s exceeds %d links", refund.Reference, maxChain)
		}
		prev, err := e.repo.GetByReference(ctx, *current.ReissueOf)
		if err != nil {
			return 0, "", fmt.Errorf("walk reissue chain of %s: %w", refund.Reference, err)
		}
		current = prev
		depth++
	}
	return depth + 1, current.Reference, nil
}

func (e *ReissueEngine) sendReissueNotification(ctx context.Context, successor *Refund, ordinal int) {
	dest := notify.Destination{Channel: notify.ChannelEmail}
	if cd := successor.ContactDetails; cd != nil {
		dest = notify.Destination{
			Channel:     notify.Channel(cd.NotificationType),
			Email:       cd.Email,
			AddressLine: cd.AddressLine,
			City:        cd.City,
			County:      cd.County,
			Country:     cd.Country,
			Postcode:    cd.Postcode,
		}
	} else {
		group, err := e.payments.GetPaymentGroup(ctx, successor.PaymentReference)
		if err != nil {
			e.logger.Warn("resolve reissue notification destination failed",
				zap.String("reference", successor.Reference),
				zap.Error(err),
			)
			return
		}
		dest.Email = group.Email
	}

	n := notify.Notification{
		RefundReference: successor.Reference,
		Ordinal:         ordinal,
		Kind:            notify.KindRefundReissued,
		Destination:     dest,
		Personalisation: map[string]string{
			"refund_reference":   successor.Reference,
			"original_reference": *successor.ReissueOf,
			"amount":             successor.Amount.StringFixed(2),
		},
	}
	if err := e.notify.SendRefundNotification(ctx, n); err != nil {
		e.logger.Warn("send reissue notification failed",
			zap.String("reference", successor.Reference),
			zap.Error(err),
		)
	}
}

// Resubmit amends a sent-back refund and returns it for approval. When the
// amount changed, the adjusted amount is pushed to the payment provider
// first; a failed push commits nothing.
func (e *ReissueEngine) Resubmit(ctx context.Context, reference string, req *ResubmitRequest, actor string) (*Refund, error) {
	e.locks.refs.Lock(reference)
	defer e.locks.refs.Unlock(reference)

	refund, err := e.repo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	next, err := e.sm.NextState(refund.Status, EventSubmit)
	if err != nil {
		e.metrics.RecordTransition(string(EventSubmit), false)
		return nil, err
	}

	key := feeKey(refund.PaymentReference, refund.FeeID)
	e.locks.fees.Lock(key)
	defer e.locks.fees.Unlock(key)

	reason, err := resolveReason(ctx, e.repo, req.Reason, req.ReasonText)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.CheckAmount(ctx, refund.PaymentReference, refund.FeeID, refund.FeeAmount, req.Amount, refund.Reference); err != nil {
		e.metrics.LedgerRejections.Inc()
		return nil, err
	}

	amountChanged := !req.Amount.Equal(refund.Amount)
	if amountChanged {
		if err := e.payments.UpdateRemissionAmount(ctx, refund.PaymentReference, refund.FeeID, req.Amount); err != nil {
			return nil, fmt.Errorf("%w: push amended amount: %v", ErrActionNotFound, err)
		}
	}

	prev := refund.Status
	err = e.repo.Transaction(ctx, func(txRepo Repository) error {
		refund.Amount = req.Amount
		refund.Reason = reason
		refund.Status = next
		refund.UpdatedBy = actor
		if err := txRepo.Update(ctx, refund); err != nil {
			return fmt.Errorf("update refund %s: %w", reference, err)
		}
		return txRepo.AppendHistory(ctx, &StatusHistory{
			RefundID:  refund.ID,
			Status:    next,
			Notes:     NoteSubmitted,
			CreatedBy: actor,
		})
	})
	if err != nil {
		return nil, err
	}

	e.bus.Publish(events.NewRefundStatusChangedEvent(
		refund.ID, refund.Reference, refund.PaymentReference,
		string(EventSubmit), string(prev), string(next), actor,
	))
	return refund, nil
}

