package refund

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// RefundStatus represents the lifecycle state of a refund.
type RefundStatus string

const (
	StatusSentForApproval RefundStatus = "sent_for_approval"
	StatusNeedMoreInfo    RefundStatus = "need_more_info"
	StatusApproved        RefundStatus = "approved"
	StatusAccepted        RefundStatus = "accepted"
	StatusRejected        RefundStatus = "rejected"
	StatusCancelled       RefundStatus = "cancelled"
	StatusExpired         RefundStatus = "expired"
	StatusClosed          RefundStatus = "closed"
)

// RefundEvent represents an action that drives a state transition.
type RefundEvent string

const (
	EventSubmit   RefundEvent = "submit"
	EventReject   RefundEvent = "reject"
	EventSendBack RefundEvent = "sendback"
	EventApprove  RefundEvent = "approve"
	EventAccept   RefundEvent = "accept"
	EventCancel   RefundEvent = "cancel"
	EventExpire   RefundEvent = "expire"
	EventReissue  RefundEvent = "reissue"
)

// History note texts recorded on transitions.
const (
	NoteSubmitted          = "Refund initiated and sent to team leader"
	NoteApproved           = "Refund approved by system"
	NoteSentToMiddleOffice = "Sent to middle office"
	NoteRejected           = "Refund rejected"
	NoteSentBack           = "Refund returned to caseworker"
	NoteClosed             = "Refund closed by case worker"
	NoteCancelled          = "Refund cancelled"
)

// RejectionReasonCardFailure is the provider rejection code meaning the card
// refund could not be applied and a cheque was issued instead. A subsequent
// acceptance after this rejection re-notifies the claimant.
const RejectionReasonCardFailure = "RR036"

// NotificationType selects the channel for refund notifications.
type NotificationType string

const (
	NotificationEmail  NotificationType = "EMAIL"
	NotificationLetter NotificationType = "LETTER"
)

// ContactDetails is an optional override destination for notifications.
// Cleared once a notification is confirmed delivered.
type ContactDetails struct {
	NotificationType NotificationType `json:"notification_type"`
	Email            string           `json:"email,omitempty"`
	AddressLine      string           `json:"address_line,omitempty"`
	City             string           `json:"city,omitempty"`
	County           string           `json:"county,omitempty"`
	Country          string           `json:"country,omitempty"`
	Postcode         string           `json:"postcode,omitempty"`
}

// Refund is the aggregate root for a refund claim.
type Refund struct {
	ID               uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Reference        string          `json:"reference" gorm:"uniqueIndex;not null"`
	PaymentReference string          `json:"payment_reference" gorm:"not null;index:idx_refunds_payment_fee"`
	FeeID            int64           `json:"fee_id" gorm:"not null;index:idx_refunds_payment_fee"`
	FeeAmount        decimal.Decimal `json:"fee_amount" gorm:"type:numeric(12,2);not null"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	Reason           string          `json:"reason" gorm:"not null"`
	Status           RefundStatus    `json:"status" gorm:"not null;index"`
	CcdCaseNumber    string          `json:"ccd_case_number" gorm:"index"`
	CreatedBy        string          `json:"created_by" gorm:"not null"`
	UpdatedBy        string          `json:"updated_by" gorm:"not null"`
	ContactDetails   *ContactDetails `json:"contact_details,omitempty" gorm:"serializer:json"`
	ReissueOf        *string         `json:"reissue_of,omitempty" gorm:"index"`
	ReissuedBy       *string         `json:"reissued_by,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	// Relations
	History []StatusHistory `json:"history,omitempty" gorm:"foreignKey:RefundID"`
}

// TableName returns the database table name.
func (Refund) TableName() string {
	return "refunds"
}

// IsTerminal returns true if no further direct transition is permitted.
// An expired refund is only reachable through reissue.
func (r *Refund) IsTerminal() bool {
	switch r.Status {
	case StatusAccepted, StatusRejected, StatusCancelled, StatusClosed:
		return true
	}
	return false
}

// IsVoided returns true if the refund no longer counts against its fee's
// refundable balance.
func (r *Refund) IsVoided() bool {
	switch r.Status {
	case StatusRejected, StatusCancelled, StatusClosed:
		return true
	}
	return false
}

// VoidedStatuses are the states excluded from the fee ledger sum.
var VoidedStatuses = []RefundStatus{StatusRejected, StatusCancelled, StatusClosed}

// StatusHistory is an immutable record of one status change.
// Entries are never mutated or deleted.
type StatusHistory struct {
	ID          uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RefundID    uuid.UUID    `json:"refund_id" gorm:"type:uuid;not null;index"`
	Status      RefundStatus `json:"status" gorm:"not null"`
	Notes       string       `json:"notes"`
	Code        string       `json:"code,omitempty"`
	CreatedBy   string       `json:"created_by" gorm:"not null"`
	DateCreated time.Time    `json:"date_created" gorm:"not null;autoCreateTime"`
}

// TableName returns the database table name.
func (StatusHistory) TableName() string {
	return "refund_status_history"
}

// RefundReason is a catalogue entry validating refund reason codes.
type RefundReason struct {
	Code           string         `json:"code" gorm:"primaryKey"`
	Description    string         `json:"description" gorm:"not null"`
	RequiresReason bool           `json:"requires_reason"`
	Aliases        pq.StringArray `json:"aliases,omitempty" gorm:"type:text[]"`
}

// TableName returns the database table name.
func (RefundReason) TableName() string {
	return "refund_reasons"
}

// RejectionReason is a catalogue entry for reviewer rejection codes.
type RejectionReason struct {
	Code           string `json:"code" gorm:"primaryKey"`
	Name           string `json:"name" gorm:"not null"`
	RequiresReason bool   `json:"requires_reason"`
}

// TableName returns the database table name.
func (RejectionReason) TableName() string {
	return "rejection_reasons"
}

// ReissueNote formats the history note for the nth reissue of a chain,
// e.g. "1st re-issue of original refund RF-1234-5678-9012-3456".
func ReissueNote(n int, originalReference string) string {
	return fmt.Sprintf("%s re-issue of original refund %s", ordinal(n), originalReference)
}

func ordinal(n int) string {
	switch {
	case n%100 >= 11 && n%100 <= 13:
		return fmt.Sprintf("%dth", n)
	case n%10 == 1:
		return fmt.Sprintf("%dst", n)
	case n%10 == 2:
		return fmt.Sprintf("%dnd", n)
	case n%10 == 3:
		return fmt.Sprintf("%drd", n)
	default:
		return fmt.Sprintf("%dth", n)
	}
}
