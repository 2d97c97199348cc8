package refund

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmitRequest creates a new refund claim.
type SubmitRequest struct {
	PaymentReference string          `json:"payment_reference" binding:"required"`
	FeeID            int64           `json:"fee_id" binding:"required"`
	Amount           decimal.Decimal `json:"amount" binding:"required"`
	Reason           string          `json:"reason" binding:"required"`
	ReasonText       string          `json:"reason_text,omitempty"`
	ContactDetails   *ContactDetails `json:"contact_details,omitempty"`
}

// ReviewRequest carries a reviewer decision.
type ReviewRequest struct {
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ProviderUpdateRequest is the middle office callback payload. Code
// carries the rejection reason code on rejected callbacks.
type ProviderUpdateRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code,omitempty"`
}

// ResubmitRequest amends a sent-back refund.
type ResubmitRequest struct {
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Reason     string          `json:"reason" binding:"required"`
	ReasonText string          `json:"reason_text,omitempty"`
}

// RefundResponse is the external view of a refund.
type RefundResponse struct {
	Reference        string          `json:"reference"`
	PaymentReference string          `json:"payment_reference"`
	FeeID            int64           `json:"fee_id"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason"`
	Status           string          `json:"status"`
	StatusLabel      string          `json:"status_label"`
	CcdCaseNumber    string          `json:"ccd_case_number,omitempty"`
	CreatedBy        string          `json:"created_by"`
	CreatedByName    string          `json:"created_by_name,omitempty"`
	ReissueOf        *string         `json:"reissue_of,omitempty"`
	ReissuedBy       *string         `json:"reissued_by,omitempty"`
	ContactDetails   *ContactDetails `json:"contact_details,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HistoryEntryResponse is one audit trail entry, returned newest-first.
type HistoryEntryResponse struct {
	Status        string    `json:"status"`
	StatusLabel   string    `json:"status_label"`
	Notes         string    `json:"notes"`
	Code          string    `json:"code,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedByName string    `json:"created_by_name,omitempty"`
	DateCreated   time.Time `json:"date_created"`
}

// RefundDetailResponse is a refund with its status history.
type RefundDetailResponse struct {
	RefundResponse
	History []HistoryEntryResponse `json:"history"`
}

// ActionResponse is one available action for a refund.
type ActionResponse struct {
	Event string `json:"event"`
	Label string `json:"label"`
}

// ReasonResponse is one catalogue reason.
type ReasonResponse struct {
	Code           string `json:"code"`
	Description    string `json:"description"`
	RequiresReason bool   `json:"requires_reason"`
}

// CancelResponse reports how many refunds a payment-level cancel touched.
type CancelResponse struct {
	Cancelled int `json:"cancelled"`
}

func toRefundResponse(r *Refund) RefundResponse {
	return RefundResponse{
		Reference:        r.Reference,
		PaymentReference: r.PaymentReference,
		FeeID:            r.FeeID,
		Amount:           r.Amount,
		Reason:           r.Reason,
		Status:           string(r.Status),
		StatusLabel:      StatusLabel(r.Status),
		CcdCaseNumber:    r.CcdCaseNumber,
		CreatedBy:        r.CreatedBy,
		ReissueOf:        r.ReissueOf,
		ReissuedBy:       r.ReissuedBy,
		ContactDetails:   r.ContactDetails,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
