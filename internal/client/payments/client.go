// Package payments talks to the payment/fee provider. It supplies the fee
// line items backing the refund ledger and accepts remission amount pushes
// when a sent-back refund is resubmitted with a changed amount.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/hmcts/refunds-api/internal/client"
	"github.com/hmcts/refunds-api/internal/shared/config"
	"github.com/hmcts/refunds-api/internal/shared/metrics"
)

// ErrPaymentNotFound is returned when the provider has no payment for the
// given reference.
var ErrPaymentNotFound = errors.New("payment not found")

// PaymentGroup is the provider's view of a payment and its fee lines.
type PaymentGroup struct {
	PaymentReference string          `json:"payment_reference"`
	CcdCaseNumber    string          `json:"ccd_case_number"`
	CaseReference    string          `json:"case_reference"`
	ServiceName      string          `json:"service_name"`
	CustomerName     string          `json:"customer_name"`
	Email            string          `json:"email"`
	Status           string          `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Fees             []Fee           `json:"fees"`
}

// Fee is one chargeable line item within a payment.
type Fee struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Version       string          `json:"version"`
	Amount        decimal.Decimal `json:"calculated_amount"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	Jurisdiction  string          `json:"jurisdiction"`
	RemissionCode string          `json:"remission_code,omitempty"`
}

// StatusSuccess is the provider's paid state; refunds are only accepted
// against successful payments.
const StatusSuccess = "success"

// Fee lookup by id.
func (g *PaymentGroup) Fee(feeID int64) (*Fee, bool) {
	for i := range g.Fees {
		if g.Fees[i].ID == feeID {
			return &g.Fees[i], true
		}
	}
	return nil, false
}

// Client calls the payment/fee provider.
type Client struct {
	caller *client.Caller
	logger *zap.Logger
}

// New creates a payments client.
func New(cfg config.PaymentsClientConfig, httpClient *http.Client, tokens oauth2.TokenSource, breakerCfg config.BreakerConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	return &Client{
		caller: client.NewCaller("payments", cfg.BaseURL, httpClient, tokens, breakerCfg, m, logger),
		logger: logger,
	}
}

// GetPaymentGroup fetches the payment and its fee lines by payment reference.
func (c *Client) GetPaymentGroup(ctx context.Context, paymentReference string) (*PaymentGroup, error) {
	var group PaymentGroup
	err := c.caller.DoJSON(ctx, http.MethodGet, "/payment-groups/"+paymentReference, nil, &group)
	if err != nil {
		if client.IsStatus(err, http.StatusNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment group %s: %w", paymentReference, err)
	}
	return &group, nil
}

type remissionUpdate struct {
	FeeID  int64           `json:"fee_id"`
	Amount decimal.Decimal `json:"amount"`
}

// UpdateRemissionAmount pushes an adjusted refund amount for a fee to the
// provider. Used by resubmit when the amount change affects a recorded
// remission downstream.
func (c *Client) UpdateRemissionAmount(ctx context.Context, paymentReference string, feeID int64, amount decimal.Decimal) error {
	body := remissionUpdate{FeeID: feeID, Amount: amount}
	path := fmt.Sprintf("/payment-groups/%s/fees/%d/remission", paymentReference, feeID)
	if err := c.caller.DoJSON(ctx, http.MethodPatch, path, body, nil); err != nil {
		if client.IsStatus(err, http.StatusNotFound) {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("update remission amount for %s fee %d: %w", paymentReference, feeID, err)
	}
	return nil
}
