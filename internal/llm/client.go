package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/circuitbreaker"
	"github.com/praxislabs/concord/internal/tracing"
)

// Client is the opaque, fallible, rate-limited text-completion backend every
// agent call goes through. The only suspension point in the pipeline.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// HTTPClient talks to the backend's POST /v1/complete endpoint. Transient
// failures (network errors, timeouts, 429, 5xx) are retried with exponential
// backoff behind a circuit breaker; schema-invalid output is surfaced as a
// SchemaError with the raw body preserved for logging.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	maxRetries uint64
	logger     *zap.Logger
}

// Options tunes an HTTPClient.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	APIKey     string
}

// NewHTTPClient creates a backend client.
func NewHTTPClient(baseURL string, opts Options, logger *zap.Logger) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.New("llm-backend", circuitbreaker.DefaultConfig(), logger),
		maxRetries: uint64(retries),
		logger:     logger,
	}
}

// Complete implements Client.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	var out *Completion
	operation := func() error {
		comp, err := c.completeOnce(ctx, req)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = comp
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	// Retry unwraps backoff.Permanent, so schema errors come back as-is.
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) completeOnce(ctx context.Context, req Request) (*Completion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var comp *Completion
	cbErr := c.breaker.Execute(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/v1/complete", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		tracing.InjectTraceparent(ctx, httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return &TransientError{Op: string(req.Schema), Err: err}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return &TransientError{Op: string(req.Schema), Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return &TransientError{
				Op:  string(req.Schema),
				Err: fmt.Errorf("backend returned %d", resp.StatusCode),
			}
		case resp.StatusCode != http.StatusOK:
			return &SchemaError{
				Reason: fmt.Sprintf("backend returned %d", resp.StatusCode),
				Raw:    string(raw),
			}
		}

		var parsed Completion
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return &SchemaError{Reason: "invalid JSON: " + err.Error(), Raw: string(raw)}
		}
		if err := parsed.Validate(req.Schema); err != nil {
			return &SchemaError{Reason: err.Error(), Raw: string(raw)}
		}
		comp = &parsed
		return nil
	})
	if cbErr != nil {
		// An open breaker behaves like any other transient backend outage.
		if cbErr == circuitbreaker.ErrOpen || cbErr == circuitbreaker.ErrTooManyRequests {
			return nil, &TransientError{Op: string(req.Schema), Err: cbErr}
		}
		if se, ok := cbErr.(*SchemaError); ok {
			c.logger.Warn("Backend returned invalid output",
				zap.String("schema", string(req.Schema)),
				zap.String("reason", se.Reason),
				zap.String("raw", truncate(se.Raw, 2048)),
			)
		}
		return nil, cbErr
	}
	return comp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
