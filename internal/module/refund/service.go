package refund

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hmcts/refunds-api/internal/client/notify"
	"github.com/hmcts/refunds-api/internal/client/payments"
	"github.com/hmcts/refunds-api/internal/client/reconciliation"
	"github.com/hmcts/refunds-api/internal/shared/events"
	"github.com/hmcts/refunds-api/internal/shared/metrics"
)

// PaymentsClient is the payment/fee provider boundary.
type PaymentsClient interface {
	GetPaymentGroup(ctx context.Context, paymentReference string) (*payments.PaymentGroup, error)
	UpdateRemissionAmount(ctx context.Context, paymentReference string, feeID int64, amount decimal.Decimal) error
}

// ReconciliationClient is the middle office boundary.
type ReconciliationClient interface {
	SubmitRefund(ctx context.Context, req reconciliation.Request) error
}

// NotifyClient is the notification sender boundary.
type NotifyClient interface {
	SendRefundNotification(ctx context.Context, n notify.Notification) error
}

// IdentityResolver resolves user ids to display names for audit output.
type IdentityResolver interface {
	FullName(ctx context.Context, uid string) string
}

// Locks holds the mutual-exclusion scopes for refund mutations: one per
// refund reference and one per (payment, fee) pair. The workflow service
// and the reissue engine share the same set.
type Locks struct {
	refs *keyedMutex
	fees *keyedMutex
}

// NewLocks creates a shared lock set.
func NewLocks() *Locks {
	return &Locks{refs: newKeyedMutex(), fees: newKeyedMutex()}
}

// Service orchestrates refund lifecycle transitions.
type Service struct {
	repo           Repository
	sm             *StateMachine
	ledger         *Ledger
	locks          *Locks
	payments       PaymentsClient
	reconciliation ReconciliationClient
	notify         NotifyClient
	identity       IdentityResolver
	bus            *events.Bus
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewService creates the refund workflow service.
func NewService(
	repo Repository,
	sm *StateMachine,
	ledger *Ledger,
	locks *Locks,
	paymentsClient PaymentsClient,
	reconciliationClient ReconciliationClient,
	notifyClient NotifyClient,
	identity IdentityResolver,
	bus *events.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:           repo,
		sm:             sm,
		ledger:         ledger,
		locks:          locks,
		payments:       paymentsClient,
		reconciliation: reconciliationClient,
		notify:         notifyClient,
		identity:       identity,
		bus:            bus,
		metrics:        m,
		logger:         logger,
	}
}

// Submit validates and creates a new refund in sent_for_approval.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest, requester string) (*Refund, error) {
	key := feeKey(req.PaymentReference, req.FeeID)
	s.locks.fees.Lock(key)
	defer s.locks.fees.Unlock(key)

	group, err := s.payments.GetPaymentGroup(ctx, req.PaymentReference)
	if err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			return nil, fmt.Errorf("%w: payment %s not found", ErrInvalidRefundRequest, req.PaymentReference)
		}
		return nil, err
	}
	if group.Status != payments.StatusSuccess {
		return nil, fmt.Errorf("%w: payment %s is not in a refundable state", ErrInvalidRefundRequest, req.PaymentReference)
	}
	fee, ok := group.Fee(req.FeeID)
	if !ok {
		return nil, fmt.Errorf("%w: fee %d is not part of payment %s", ErrInvalidRefundRequest, req.FeeID, req.PaymentReference)
	}

	reason, err := resolveReason(ctx, s.repo, req.Reason, req.ReasonText)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.CheckAmount(ctx, req.PaymentReference, req.FeeID, fee.Amount, req.Amount, ""); err != nil {
		s.metrics.LedgerRejections.Inc()
		return nil, err
	}

	refund := &Refund{
		PaymentReference: req.PaymentReference,
		FeeID:            req.FeeID,
		FeeAmount:        fee.Amount,
		Amount:           req.Amount,
		Reason:           reason,
		Status:           StatusSentForApproval,
		CcdCaseNumber:    group.CcdCaseNumber,
		CreatedBy:        requester,
		UpdatedBy:        requester,
		ContactDetails:   req.ContactDetails,
	}

	if err := s.createWithHistory(ctx, refund, requester); err != nil {
		return nil, err
	}

	s.metrics.RefundsSubmitted.Inc()
	s.bus.Publish(events.NewRefundStatusChangedEvent(
		refund.ID, refund.Reference, refund.PaymentReference,
		string(EventSubmit), "", string(StatusSentForApproval), requester,
	))

	s.logger.Info("refund submitted",
		zap.String("reference", refund.Reference),
		zap.String("payment_reference", refund.PaymentReference),
		zap.String("amount", refund.Amount.StringFixed(2)),
	)
	return refund, nil
}

// createWithHistory persists a new refund and its first history entry in one
// transaction, retrying reference allocation on the rare collision.
func (s *Service) createWithHistory(ctx context.Context, refund *Refund, requester string) error {
	for attempt := 0; attempt < 3; attempt++ {
		reference, err := NewReference()
		if err != nil {
			return err
		}
		refund.Reference = reference

		err = s.repo.Transaction(ctx, func(txRepo Repository) error {
			if err := txRepo.Create(ctx, refund); err != nil {
				return err
			}
			return txRepo.AppendHistory(ctx, &StatusHistory{
				RefundID:  refund.ID,
				Status:    StatusSentForApproval,
				Notes:     NoteSubmitted,
				CreatedBy: requester,
			})
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) && !strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("create refund: %w", err)
		}
	}
	return fmt.Errorf("create refund: reference allocation failed after retries")
}

// Review applies a reviewer decision (approve, reject, sendback) to a
// refund awaiting approval.
func (s *Service) Review(ctx context.Context, reference string, event RefundEvent, req *ReviewRequest, reviewer string) (*Refund, error) {
	s.locks.refs.Lock(reference)
	defer s.locks.refs.Unlock(reference)

	refund, err := s.repo.GetByReferenceWithHistory(ctx, reference)
	if err != nil {
		return nil, err
	}
	if refund.Status != StatusSentForApproval {
		return nil, fmt.Errorf("%w: refund %s is in status %s", ErrInvalidReviewRequest, reference, refund.Status)
	}

	switch event {
	case EventApprove, EventReject, EventSendBack:
	default:
		return nil, fmt.Errorf("%w: %s is not a review action", ErrInvalidTransition, event)
	}

	next, err := s.sm.NextState(refund.Status, event)
	if err != nil {
		s.metrics.RecordTransition(string(event), false)
		return nil, err
	}

	switch event {
	case EventApprove:
		if err := s.approve(ctx, refund, reviewer); err != nil {
			return nil, err
		}
	case EventReject:
		note, err := s.rejectionNote(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := s.transition(ctx, refund, next, reviewer, StatusHistory{Notes: note, Code: req.Code}); err != nil {
			return nil, err
		}
	case EventSendBack:
		if req.Reason == "" {
			return nil, fmt.Errorf("%w: a reason is required to send a refund back", ErrInvalidRefundRequest)
		}
		if err := s.transition(ctx, refund, next, reviewer, StatusHistory{Notes: NoteSentBack}); err != nil {
			return nil, err
		}
	}

	s.bus.Publish(events.NewRefundStatusChangedEvent(
		refund.ID, refund.Reference, refund.PaymentReference,
		string(event), string(StatusSentForApproval), string(refund.Status), reviewer,
	))
	return refund, nil
}

// approve pushes the refund to the middle office and only commits the
// transition once the push succeeds. A failed push leaves the refund
// untouched and surfaces the collaborator error.
func (s *Service) approve(ctx context.Context, refund *Refund, reviewer string) error {
	group, err := s.payments.GetPaymentGroup(ctx, refund.PaymentReference)
	if err != nil {
		return fmt.Errorf("%w: fetch payment for approval: %v", ErrActionNotFound, err)
	}
	fee, ok := group.Fee(refund.FeeID)
	if !ok {
		return fmt.Errorf("%w: fee %d no longer part of payment %s", ErrActionNotFound, refund.FeeID, refund.PaymentReference)
	}

	recReq := reconciliation.Request{
		RefundReference:  refund.Reference,
		PaymentReference: refund.PaymentReference,
		Amount:           refund.Amount,
		CaseReference:    group.CaseReference,
		CcdCaseNumber:    group.CcdCaseNumber,
		Reason:           refund.Reason,
		Ordinal:          len(refund.History) + 1,
		Fees: []reconciliation.RequestFee{{
			ID:             fee.ID,
			Code:           fee.Code,
			Version:        fee.Version,
			RefundAmount:   refund.Amount,
			OriginalAmount: fee.Amount,
		}},
	}
	if err := s.reconciliation.SubmitRefund(ctx, recReq); err != nil {
		s.metrics.RecordTransition(string(EventApprove), false)
		return err
	}

	return s.transition(ctx, refund, StatusApproved, reviewer,
		StatusHistory{Notes: NoteApproved}, StatusHistory{Notes: NoteSentToMiddleOffice})
}

func (s *Service) rejectionNote(ctx context.Context, req *ReviewRequest) (string, error) {
	if req == nil || req.Code == "" {
		return "", fmt.Errorf("%w: reject reason is required", ErrInvalidRefundRequest)
	}
	reason, err := s.repo.GetRejectionReason(ctx, req.Code)
	if err != nil {
		if errors.Is(err, ErrReasonNotFound) {
			return "", fmt.Errorf("%w: unknown rejection code %s", ErrInvalidRefundRequest, req.Code)
		}
		return "", err
	}
	if reason.RequiresReason && req.Reason == "" {
		return "", fmt.Errorf("%w: reason is required for others", ErrInvalidRefundRequest)
	}
	return NoteRejected, nil
}

// ProviderStatusUpdate applies a middle office decision (accepted, rejected,
// expired) that arrived via callback.
func (s *Service) ProviderStatusUpdate(ctx context.Context, reference string, req *ProviderUpdateRequest) (*Refund, error) {
	s.locks.refs.Lock(reference)
	defer s.locks.refs.Unlock(reference)

	refund, err := s.repo.GetByReferenceWithHistory(ctx, reference)
	if err != nil {
		return nil, err
	}
	// Only a refund the provider actually holds can be moved by a callback.
	// The reviewer edges out of sent_for_approval share event names with
	// the provider edges and must stay out of reach here.
	if refund.Status != StatusApproved && refund.Status != StatusAccepted {
		return nil, fmt.Errorf("%w: refund %s is not with the provider (status %s)", ErrInvalidTransition, reference, refund.Status)
	}

	event, note, err := providerEvent(req)
	if err != nil {
		return nil, err
	}

	prev := refund.Status
	next, err := s.sm.NextState(refund.Status, event)
	if err != nil {
		s.metrics.RecordTransition(string(event), false)
		return nil, err
	}

	wasAccepted := hasStatus(refund.History, StatusAccepted)
	reversalCode := lastReversalCode(refund.History)

	if err := s.transition(ctx, refund, next, "middle office", StatusHistory{Notes: note, Code: req.Code}); err != nil {
		return nil, err
	}

	s.bus.Publish(events.NewRefundStatusChangedEvent(
		refund.ID, refund.Reference, refund.PaymentReference,
		string(event), string(prev), string(next), "middle office",
	))

	if next == StatusAccepted {
		// A first acceptance always notifies. A repeat acceptance after a
		// provider reversal re-notifies only when the reversal carried the
		// card-failure code, meaning a cheque went out instead.
		if !wasAccepted || reversalCode == RejectionReasonCardFailure {
			s.sendAcceptedNotification(ctx, refund)
		}
	}
	return refund, nil
}

func providerEvent(req *ProviderUpdateRequest) (RefundEvent, string, error) {
	switch strings.ToLower(req.Status) {
	case "accepted":
		return EventAccept, orDefault(req.Reason, "Refund accepted"), nil
	case "rejected":
		return EventReject, orDefault(req.Reason, NoteRejected), nil
	case "expired":
		return EventExpire, orDefault(req.Reason, "Refund expired"), nil
	default:
		return "", "", fmt.Errorf("%w: unknown provider status %q", ErrInvalidTransition, req.Status)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func hasStatus(history []StatusHistory, status RefundStatus) bool {
	for _, h := range history {
		if h.Status == status {
			return true
		}
	}
	return false
}

// lastReversalCode returns the rejection code of the most recent provider
// reversal: an approved history entry that is neither of the approval
// notes. History is ordered newest-first.
func lastReversalCode(history []StatusHistory) string {
	for _, h := range history {
		if h.Status == StatusApproved && h.Notes != NoteApproved && h.Notes != NoteSentToMiddleOffice {
			return h.Code
		}
	}
	return ""
}

func (s *Service) sendAcceptedNotification(ctx context.Context, refund *Refund) {
	dest, err := s.destination(ctx, refund)
	if err != nil {
		s.logger.Warn("resolve notification destination failed",
			zap.String("reference", refund.Reference),
			zap.Error(err),
		)
		return
	}

	n := notify.Notification{
		RefundReference: refund.Reference,
		Ordinal:         len(refund.History),
		Kind:            notify.KindRefundAccepted,
		Destination:     dest,
		Personalisation: map[string]string{
			"refund_reference": refund.Reference,
			"amount":           refund.Amount.StringFixed(2),
		},
	}
	if err := s.notify.SendRefundNotification(ctx, n); err != nil {
		s.logger.Warn("send acceptance notification failed",
			zap.String("reference", refund.Reference),
			zap.Error(err),
		)
		return
	}

	// Contact overrides are single-use; clear once delivery is confirmed.
	if refund.ContactDetails != nil {
		refund.ContactDetails = nil
		if err := s.repo.Update(ctx, refund); err != nil {
			s.logger.Warn("clear contact details failed",
				zap.String("reference", refund.Reference),
				zap.Error(err),
			)
		}
	}
}

// destination picks the contact override when present, falling back to the
// payment's recorded email.
func (s *Service) destination(ctx context.Context, refund *Refund) (notify.Destination, error) {
	if cd := refund.ContactDetails; cd != nil {
		dest := notify.Destination{
			Channel:     notify.Channel(cd.NotificationType),
			Email:       cd.Email,
			AddressLine: cd.AddressLine,
			City:        cd.City,
			County:      cd.County,
			Country:     cd.Country,
			Postcode:    cd.Postcode,
		}
		if dest.Channel == "" {
			dest.Channel = notify.ChannelEmail
		}
		return dest, nil
	}

	group, err := s.payments.GetPaymentGroup(ctx, refund.PaymentReference)
	if err != nil {
		return notify.Destination{}, err
	}
	return notify.Destination{Channel: notify.ChannelEmail, Email: group.Email}, nil
}

// transition commits a status change and its history entries atomically,
// keeping the refund's status equal to the newest entry. Entries carry
// their notes and optional reason code; refund id, status and actor are
// filled in here.
func (s *Service) transition(ctx context.Context, refund *Refund, next RefundStatus, actor string, entries ...StatusHistory) error {
	return s.repo.Transaction(ctx, func(txRepo Repository) error {
		refund.Status = next
		refund.UpdatedBy = actor
		if err := txRepo.Update(ctx, refund); err != nil {
			return fmt.Errorf("update refund %s: %w", refund.Reference, err)
		}
		for _, entry := range entries {
			entry.RefundID = refund.ID
			entry.Status = next
			entry.CreatedBy = actor
			if err := txRepo.AppendHistory(ctx, &entry); err != nil {
				return fmt.Errorf("append history for %s: %w", refund.Reference, err)
			}
			refund.History = append([]StatusHistory{entry}, refund.History...)
		}
		return nil
	})
}

// RetrieveActions lists the legal next actions for a refund.
func (s *Service) RetrieveActions(ctx context.Context, reference string) ([]ActionResponse, error) {
	refund, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if s.sm.IsTerminal(refund.Status) {
		return nil, fmt.Errorf("%w: refund %s is %s", ErrActionsExhausted, reference, refund.Status)
	}

	legal := s.sm.ValidEvents(refund.Status)
	actions := make([]ActionResponse, 0, len(legal))
	for _, e := range legal {
		actions = append(actions, ActionResponse{Event: string(e), Label: EventLabel(e)})
	}
	return actions, nil
}

// Get returns a refund with its newest-first history, decorated with
// display names.
func (s *Service) Get(ctx context.Context, reference string) (*RefundDetailResponse, error) {
	refund, err := s.repo.GetByReferenceWithHistory(ctx, reference)
	if err != nil {
		return nil, err
	}

	resp := RefundDetailResponse{RefundResponse: toRefundResponse(refund)}
	resp.CreatedByName = s.resolveName(ctx, refund.CreatedBy)
	resp.History = make([]HistoryEntryResponse, 0, len(refund.History))
	for _, h := range refund.History {
		resp.History = append(resp.History, HistoryEntryResponse{
			Status:        string(h.Status),
			StatusLabel:   StatusLabel(h.Status),
			Notes:         h.Notes,
			Code:          h.Code,
			CreatedBy:     h.CreatedBy,
			CreatedByName: s.resolveName(ctx, h.CreatedBy),
			DateCreated:   h.DateCreated,
		})
	}
	return &resp, nil
}

// List returns refunds matching the filter.
func (s *Service) List(ctx context.Context, filter *Filter) ([]RefundResponse, error) {
	refunds, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]RefundResponse, 0, len(refunds))
	for _, r := range refunds {
		resp := toRefundResponse(r)
		resp.CreatedByName = s.resolveName(ctx, r.CreatedBy)
		out = append(out, resp)
	}
	return out, nil
}

// CancelByPayment cancels every refund on the payment still in a
// cancellable state.
func (s *Service) CancelByPayment(ctx context.Context, paymentReference, actor string) (int, error) {
	refunds, err := s.repo.ListByPayment(ctx, paymentReference)
	if err != nil {
		return 0, err
	}
	if len(refunds) == 0 {
		return 0, ErrRefundNotFound
	}

	cancelled := 0
	for _, r := range refunds {
		if !s.sm.CanTransition(r.Status, EventCancel) {
			continue
		}
		s.locks.refs.Lock(r.Reference)
		err := func() error {
			defer s.locks.refs.Unlock(r.Reference)

			// Re-read under the lock; another caller may have moved it on.
			refund, err := s.repo.GetByReference(ctx, r.Reference)
			if err != nil {
				return err
			}
			next, err := s.sm.NextState(refund.Status, EventCancel)
			if err != nil {
				return nil
			}
			if err := s.transition(ctx, refund, next, actor, StatusHistory{Notes: NoteCancelled}); err != nil {
				return err
			}
			cancelled++
			s.bus.Publish(events.NewRefundStatusChangedEvent(
				refund.ID, refund.Reference, refund.PaymentReference,
				string(EventCancel), string(r.Status), string(next), actor,
			))
			return nil
		}()
		if err != nil {
			return cancelled, err
		}
	}

	if cancelled == 0 {
		return 0, fmt.Errorf("%w: no refunds on %s can be cancelled", ErrInvalidRefundRequest, paymentReference)
	}
	return cancelled, nil
}

// UpdateContactDetails replaces the notification destination override for a
// refund still awaiting notification.
func (s *Service) UpdateContactDetails(ctx context.Context, reference string, details *ContactDetails, actor string) (*Refund, error) {
	s.locks.refs.Lock(reference)
	defer s.locks.refs.Unlock(reference)

	refund, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if refund.IsVoided() {
		return nil, fmt.Errorf("%w: refund %s is %s", ErrInvalidRefundRequest, reference, refund.Status)
	}

	refund.ContactDetails = details
	refund.UpdatedBy = actor
	if err := s.repo.Update(ctx, refund); err != nil {
		return nil, fmt.Errorf("update contact details for %s: %w", reference, err)
	}
	return refund, nil
}

// ListReasons returns the refund reason catalogue.
func (s *Service) ListReasons(ctx context.Context) ([]ReasonResponse, error) {
	reasons, err := s.repo.ListReasons(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ReasonResponse, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, ReasonResponse{
			Code:           r.Code,
			Description:    r.Description,
			RequiresReason: r.RequiresReason,
		})
	}
	return out, nil
}

// resolveReason validates a reason code against the catalogue; codes
// flagged requires_reason must carry free text, which becomes the stored
// reason.
func resolveReason(ctx context.Context, repo Repository, code, text string) (string, error) {
	reason, err := repo.GetReason(ctx, code)
	if err != nil {
		if errors.Is(err, ErrReasonNotFound) {
			return "", fmt.Errorf("%w: unknown refund reason %s", ErrInvalidRefundRequest, code)
		}
		return "", err
	}
	if reason.RequiresReason {
		if text == "" {
			return "", fmt.Errorf("%w: reason is required for others", ErrInvalidRefundRequest)
		}
		return text, nil
	}
	return reason.Description, nil
}

func (s *Service) resolveName(ctx context.Context, uid string) string {
	if s.identity == nil || uid == "" || uid == "middle office" {
		return ""
	}
	return s.identity.FullName(ctx, uid)
}
