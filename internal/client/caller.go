// Package client holds the shared plumbing for outbound collaborator calls:
// bearer tokens from the client-credentials grant, a circuit breaker per
// collaborator, and request metrics.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hmcts/refunds-api/internal/shared/config"
	"github.com/hmcts/refunds-api/internal/shared/metrics"
)

// ErrUnavailable is returned when a collaborator is unreachable, returns a
// 5xx response, or its circuit breaker is open.
var ErrUnavailable = errors.New("collaborator unavailable")

// StatusError is a non-2xx collaborator response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// IsStatus reports whether err is a StatusError with the given status code.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

// NewTokenSource builds the client-credentials token source used to
// authenticate every outbound collaborator call.
func NewTokenSource(ctx context.Context, cfg config.AuthConfig) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
	}
	return cc.TokenSource(ctx)
}

// Caller issues authenticated JSON requests to one collaborator.
type Caller struct {
	name    string
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
	breaker *gobreaker.CircuitBreaker[[]byte]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCaller creates a caller for the named collaborator.
func NewCaller(name, baseURL string, httpClient *http.Client, tokens oauth2.TokenSource, breakerCfg config.BreakerConfig, m *metrics.Metrics, logger *zap.Logger) *Caller {
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerCfg.MaxHalfOpen,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerCfg.FailureThreshold
		},
		// 4xx responses are the collaborator answering, not failing;
		// only 5xx and transport errors count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
	})

	return &Caller{
		name:    name,
		baseURL: baseURL,
		http:    httpClient,
		tokens:  tokens,
		breaker: breaker,
		metrics: m,
		logger:  logger,
	}
}

// DoJSON sends a JSON request and decodes a JSON response into out (when out
// is non-nil). Non-2xx responses return a *StatusError; 5xx and transport
// failures additionally wrap ErrUnavailable so callers can map them to a
// gateway error.
func (c *Caller) DoJSON(ctx context.Context, method, path string, body, out any) error {
	start := time.Now()

	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, method, path, body)
	})

	status := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = "breaker_open"
		err = fmt.Errorf("%w: %s circuit open", ErrUnavailable, c.name)
	case err != nil:
		status = "error"
	}
	c.metrics.RecordCollaboratorRequest(c.name, status, time.Since(start))

	if err != nil {
		c.logger.Warn("collaborator call failed",
			zap.String("collaborator", c.name),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", c.name, err)
		}
	}
	return nil
}

func (c *Caller) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", c.name, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch token for %s: %v", ErrUnavailable, c.name, err)
	}
	token.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", ErrUnavailable, c.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", ErrUnavailable, c.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Status: resp.StatusCode, Body: string(data)}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %s returned %s", ErrUnavailable, c.name, strconv.Itoa(resp.StatusCode))
		}
		return nil, statusErr
	}
	return data, nil
}
