package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/igolaizola/trackgen/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrMalformed is wrapped by every parser that receives a successful response
// it cannot understand.
var ErrMalformed = errors.New("malformed upstream response")

// TransportError describes a failed call without interpreting it.
type TransportError struct {
	// Responded is false when no HTTP response was received at all.
	Responded  bool
	StatusCode int
	Body       []byte
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case !e.Responded && e.Timeout:
		return fmt.Sprintf("provider: timed out: %v", e.Err)
	case !e.Responded:
		return fmt.Sprintf("provider: no response: %v", e.Err)
	default:
		return fmt.Sprintf("provider: status %d: %s", e.StatusCode, truncate(string(e.Body), 100))
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Client struct {
	client  *http.Client
	baseURL string
	key     string
	limiter *rate.Limiter
	debug   bool
	log     *zap.Logger
}

type Config struct {
	BaseURL string
	Key     string
	// Wait is the minimum time between outbound calls, zero means no pacing.
	Wait   time.Duration
	Debug  bool
	Client *http.Client
	Logger *zap.Logger
}

func New(cfg *Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	limit := rate.Inf
	if cfg.Wait > 0 {
		limit = rate.Every(cfg.Wait)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL != "" && !strings.HasPrefix(baseURL, "http") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		client:  client,
		baseURL: baseURL,
		key:     cfg.Key,
		limiter: rate.NewLimiter(limit, 1),
		debug:   cfg.Debug,
		log:     logger.OrNop(cfg.Logger),
	}
}

// Invoke posts payload as JSON to the endpoint and returns the raw response
// body. A single attempt is made, bounded by timeout.
func (c *Client) Invoke(ctx context.Context, endpoint string, payload any, timeout time.Duration) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("provider: couldn't marshal request body: %w", err)
	}

	u := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		u = fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(endpoint, "/"))
	}
	if c.debug {
		c.log.Debug("provider: request", zap.String("url", u), zap.String("body", truncate(string(body), 500)))
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transportError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider: couldn't create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")
	if c.key != "" {
		req.Header.Set("authorization", fmt.Sprintf("Bearer %s", c.key))
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}
	c.log.Debug("provider: response",
		zap.String("url", u),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	if c.debug {
		c.log.Debug("provider: response body", zap.String("body", truncate(string(respBody), 500)))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Responded:  true,
			StatusCode: resp.StatusCode,
			Body:       respBody,
		}
	}
	return json.RawMessage(respBody), nil
}

func transportError(err error) *TransportError {
	return &TransportError{
		Timeout: IsTimeout(err),
		Err:     err,
	}
}

// IsTimeout reports whether err was caused by a deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
