package refund

import "errors"

// Module errors.
var (
	ErrRefundNotFound        = errors.New("refund not found")
	ErrInvalidRefundRequest  = errors.New("invalid refund request")
	ErrInvalidTransition     = errors.New("invalid refund status transition")
	ErrInvalidReviewRequest  = errors.New("refund is not awaiting approval")
	ErrInvalidReissueRequest = errors.New("There was a problem processing the supplied refund reference.")
	ErrActionNotFound        = errors.New("refund action could not be completed")
	ErrActionsExhausted      = errors.New("no further actions are available for this refund")
	ErrReasonNotFound        = errors.New("refund reason not found")
)
