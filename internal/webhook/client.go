package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/manash/adcraft/pkg/models"
)

const (
	DefaultTimeout         = 15 * time.Second
	DefaultMaxImageBytes   = 5 << 20
	DefaultMaxEncodedBytes = 10 << 20

	maxResponseBytes = 1 << 20
)

// Agent names recorded in the API-call audit log.
const (
	AgentSuggestions = "suggestions"
	AgentChat        = "chat"
	AgentEnhance     = "enhance"
)

var (
	ErrEndpointRequired = errors.New("webhook endpoint URL is required")
	ErrEnhanceFailed    = errors.New("image enhancement failed")
)

// Recorder receives one audit entry per outbound webhook attempt.
type Recorder interface {
	LogAPICall(ctx context.Context, call *models.APICall) error
}

type Config struct {
	SuggestionURL   string
	ChatURL         string
	EnhanceURL      string
	Timeout         time.Duration
	MaxImageBytes   int
	MaxEncodedBytes int
	HTTPClient      *http.Client
	Recorder        Recorder
}

// Client talks to the external suggestion, chat and enhancement endpoints.
type Client struct {
	suggestionURL   string
	chatURL         string
	enhanceURL      string
	timeout         time.Duration
	maxImageBytes   int
	maxEncodedBytes int
	httpClient      *http.Client
	recorder        Recorder
	now             func() time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.SuggestionURL == "" || cfg.ChatURL == "" {
		return nil, ErrEndpointRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	maxImage := cfg.MaxImageBytes
	if maxImage <= 0 {
		maxImage = DefaultMaxImageBytes
	}
	maxEncoded := cfg.MaxEncodedBytes
	if maxEncoded <= 0 {
		maxEncoded = DefaultMaxEncodedBytes
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	return &Client{
		suggestionURL:   cfg.SuggestionURL,
		chatURL:         cfg.ChatURL,
		enhanceURL:      cfg.EnhanceURL,
		timeout:         timeout,
		maxImageBytes:   maxImage,
		maxEncodedBytes: maxEncoded,
		httpClient:      httpClient,
		recorder:        cfg.Recorder,
		now:             time.Now,
	}, nil
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// post sends payload as JSON to endpoint within the client timeout and returns
// the status code and response body. Every attempt is recorded.
func (c *Client) post(ctx context.Context, agent, endpoint string, payload any) (int, []byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	status, body, err := c.do(ctx, endpoint, jsonData)
	elapsed := c.now().Sub(start)

	call := &models.APICall{
		Agent:      agent,
		Endpoint:   endpoint,
		StatusCode: status,
		Success:    err == nil && status >= 200 && status < 300,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		call.Error = err.Error()
	} else if !call.Success {
		call.Error = fmt.Sprintf("status %d", status)
	}
	c.record(ctx, call)

	log.Debug().
		Str("agent", agent).
		Str("endpoint", endpoint).
		Int("status", status).
		Int64("durationMs", call.DurationMs).
		Err(err).
		Msg("webhook call")

	return status, body, err
}

func (c *Client) do(ctx context.Context, endpoint string, jsonData []byte) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) record(ctx context.Context, call *models.APICall) {
	if c.recorder == nil {
		return
	}
	// The audit entry outlives the request deadline.
	if err := c.recorder.LogAPICall(context.WithoutCancel(ctx), call); err != nil {
		log.Warn().Err(err).Str("agent", call.Agent).Msg("failed to record API call")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// errorText extracts an error message that may be a plain string or an
// object with a "message" field.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
