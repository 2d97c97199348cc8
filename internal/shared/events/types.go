package events

import "github.com/google/uuid"

// Refund event type constants.
const (
	RefundStatusChangedType = "RefundStatusChanged"
	RefundReissuedType      = "RefundReissued"
)

// RefundStatusChangedEvent is emitted after a state transition commits.
// Defined in the events package to avoid cyclic imports with the refund module.
type RefundStatusChangedEvent struct {
	BaseEvent

	// Reference is the externally visible refund reference.
	Reference string `json:"reference"`

	// PaymentReference identifies the originating payment.
	PaymentReference string `json:"payment_reference"`

	// Event is the lifecycle event that drove the transition.
	Event string `json:"event"`

	// FromStatus and ToStatus record the committed transition.
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`

	// Actor is the identity that triggered the transition.
	Actor string `json:"actor"`
}

// NewRefundStatusChangedEvent creates a new RefundStatusChangedEvent.
func NewRefundStatusChangedEvent(refundID uuid.UUID, reference, paymentReference, event, from, to, actor string) *RefundStatusChangedEvent {
	return &RefundStatusChangedEvent{
		BaseEvent:        NewBaseEvent(RefundStatusChangedType, refundID, "Refund"),
		Reference:        reference,
		PaymentReference: paymentReference,
		Event:            event,
		FromStatus:       from,
		ToStatus:         to,
		Actor:            actor,
	}
}

// RefundReissuedEvent is emitted when an expired refund is closed and a
// successor refund is created.
type RefundReissuedEvent struct {
	BaseEvent

	// OriginalReference is the closed refund.
	OriginalReference string `json:"original_reference"`

	// NewReference is the successor refund.
	NewReference string `json:"new_reference"`

	// Ordinal is the position of the successor in the reissue chain (1-based).
	Ordinal int `json:"ordinal"`
}

// NewRefundReissuedEvent creates a new RefundReissuedEvent.
func NewRefundReissuedEvent(newRefundID uuid.UUID, originalReference, newReference string, ordinal int) *RefundReissuedEvent {
	return &RefundReissuedEvent{
		BaseEvent:         NewBaseEvent(RefundReissuedType, newRefundID, "Refund"),
		OriginalReference: originalReference,
		NewReference:      newReference,
		Ordinal:           ordinal,
	}
}
