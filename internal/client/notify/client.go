// Package notify sends templated refund notifications. A redis SETNX guard
// keyed by refund reference and transition ordinal suppresses duplicate
// sends while letting a genuine re-acceptance notify again.
package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/hmcts/refunds-api/internal/client"
	"github.com/hmcts/refunds-api/internal/shared/config"
	"github.com/hmcts/refunds-api/internal/shared/metrics"
)

// Kind selects the notification template family.
type Kind string

const (
	KindRefundAccepted Kind = "refund_accepted"
	KindRefundReissued Kind = "refund_reissued"
)

// Channel is the delivery channel.
type Channel string

const (
	ChannelEmail  Channel = "EMAIL"
	ChannelLetter Channel = "LETTER"
)

// Destination is where the notification goes.
type Destination struct {
	Channel     Channel
	Email       string
	AddressLine string
	City        string
	County      string
	Country     string
	Postcode    string
}

// Notification is one send request.
type Notification struct {
	RefundReference string
	// Ordinal is the transition ordinal; together with the reference it
	// forms the idempotency key, so a second acceptance after a provider
	// reversal produces a distinguishable, deliverable notification.
	Ordinal         int
	Kind            Kind
	Destination     Destination
	Personalisation map[string]string
}

type sendRequest struct {
	TemplateID      string            `json:"template_id"`
	Reference       string            `json:"reference"`
	EmailAddress    string            `json:"email_address,omitempty"`
	Address         map[string]string `json:"address,omitempty"`
	Personalisation map[string]string `json:"personalisation,omitempty"`
}

// Client calls the notification sender.
type Client struct {
	caller  *client.Caller
	redis   redis.UniversalClient
	cfg     config.NotifyClientConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a notify client.
func New(cfg config.NotifyClientConfig, httpClient *http.Client, tokens oauth2.TokenSource, breakerCfg config.BreakerConfig, redisClient redis.UniversalClient, m *metrics.Metrics, logger *zap.Logger) *Client {
	return &Client{
		caller:  client.NewCaller("notify", cfg.BaseURL, httpClient, tokens, breakerCfg, m, logger),
		redis:   redisClient,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// SendRefundNotification sends a notification unless the same
// reference+ordinal was already sent within the idempotency window.
func (c *Client) SendRefundNotification(ctx context.Context, n Notification) error {
	key := fmt.Sprintf("notify:%s-%d", n.RefundReference, n.Ordinal)
	ok, err := c.redis.SetNX(ctx, key, "sent", c.cfg.IdempotencyKeyExpiry).Result()
	if err != nil {
		// Redis being down must not block a refund transition; send anyway.
		c.logger.Warn("notification idempotency check failed",
			zap.String("key", key),
			zap.Error(err),
		)
	} else if !ok {
		c.logger.Info("notification already sent, skipping",
			zap.String("refund_reference", n.RefundReference),
			zap.Int("ordinal", n.Ordinal),
		)
		c.metrics.NotificationsSent.WithLabelValues(c.templateID(n), "duplicate").Inc()
		return nil
	}

	req := sendRequest{
		TemplateID:      c.templateID(n),
		Reference:       fmt.Sprintf("%s-%d", n.RefundReference, n.Ordinal),
		Personalisation: n.Personalisation,
	}
	if n.Destination.Channel == ChannelLetter {
		req.Address = map[string]string{
			"address_line": n.Destination.AddressLine,
			"city":         n.Destination.City,
			"county":       n.Destination.County,
			"country":      n.Destination.Country,
			"postcode":     n.Destination.Postcode,
		}
	} else {
		req.EmailAddress = n.Destination.Email
	}

	if err := c.caller.DoJSON(ctx, http.MethodPost, c.sendPath(n.Destination.Channel), req, nil); err != nil {
		// Release the guard so a retry by the caller can send.
		if delErr := c.redis.Del(ctx, key).Err(); delErr != nil {
			c.logger.Warn("release notification idempotency key failed",
				zap.String("key", key),
				zap.Error(delErr),
			)
		}
		c.metrics.NotificationsSent.WithLabelValues(req.TemplateID, "failed").Inc()
		return fmt.Errorf("send notification for %s: %w", n.RefundReference, err)
	}

	c.metrics.NotificationsSent.WithLabelValues(req.TemplateID, "sent").Inc()
	return nil
}

func (c *Client) templateID(n Notification) string {
	if n.Kind == KindRefundReissued {
		return c.cfg.ReissueTemplateID
	}
	if n.Destination.Channel == ChannelLetter {
		return c.cfg.LetterTemplateID
	}
	return c.cfg.EmailTemplateID
}

func (c *Client) sendPath(ch Channel) string {
	if ch == ChannelLetter {
		return "/notifications/letter"
	}
	return "/notifications/email"
}
