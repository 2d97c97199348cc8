// Package reconciliation pushes approved refunds to the middle office, the
// financial system that executes the actual money movement. A refund's
// Approve transition only commits once this push succeeds.
package reconciliation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/hmcts/refunds-api/internal/client"
	"github.com/hmcts/refunds-api/internal/shared/config"
	"github.com/hmcts/refunds-api/internal/shared/metrics"
)

// Request is the approved-refund push sent to the middle office.
type Request struct {
	RefundReference  string          `json:"refund_reference"`
	PaymentReference string          `json:"payment_reference"`
	Amount           decimal.Decimal `json:"amount"`
	CaseReference    string          `json:"case_reference"`
	CcdCaseNumber    string          `json:"ccd_case_number"`
	Reason           string          `json:"refund_reason"`
	Fees             []RequestFee    `json:"fees"`
	// Ordinal is the transition ordinal that produced this push; reissues
	// and re-approvals of the same reference carry distinct ordinals.
	Ordinal int `json:"ordinal"`
}

// RequestFee is one fee line in the push.
type RequestFee struct {
	ID             int64           `json:"id"`
	Code           string          `json:"code"`
	Version        string          `json:"version"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
}

// Client calls the middle office and optionally archives each submitted
// payload to S3 for audit.
type Client struct {
	caller   *client.Caller
	s3Client *s3.Client
	bucket   string
	archive  bool
	logger   *zap.Logger
}

// New creates a reconciliation client. When archiving is enabled the S3
// client is built from static credentials in the config; a custom endpoint
// supports non-AWS object stores.
func New(ctx context.Context, cfg config.ReconciliationClientConfig, httpClient *http.Client, tokens oauth2.TokenSource, breakerCfg config.BreakerConfig, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	c := &Client{
		caller:  client.NewCaller("reconciliation", cfg.BaseURL, httpClient, tokens, breakerCfg, m, logger),
		bucket:  cfg.ArchiveBucket,
		archive: cfg.ArchiveEnabled,
		logger:  logger,
	}

	if cfg.ArchiveEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.ArchiveRegion),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("load archive credentials: %w", err)
		}
		c.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.ArchiveEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.ArchiveEndpoint)
				o.UsePathStyle = true
			}
		})
	}

	return c, nil
}

// SubmitRefund pushes an approved refund to the middle office. Callers must
// treat any error as an aborted transition.
func (c *Client) SubmitRefund(ctx context.Context, req Request) error {
	if err := c.caller.DoJSON(ctx, http.MethodPost, "/refunds", req, nil); err != nil {
		return fmt.Errorf("submit refund %s: %w", req.RefundReference, err)
	}

	if c.archive {
		// Archiving is best effort; the money movement has already been
		// accepted by the middle office.
		if err := c.archivePayload(ctx, req); err != nil {
			c.logger.Warn("archive reconciliation payload failed",
				zap.String("refund_reference", req.RefundReference),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (c *Client) archivePayload(ctx context.Context, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	key := fmt.Sprintf("refunds/%s/%d.json", req.RefundReference, req.Ordinal)
	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
