package llm

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

	"github.com/rs/zerolog"

	"github.com/osmetric/devwatch/internal/digest"
	apperrors "github.com/osmetric/devwatch/internal/errors"
	"github.com/osmetric/devwatch/internal/eventlog"
)

// Config holds everything needed to call the OpenAI-compatible
// chat-completions endpoint.
type Config struct {
	Endpoint         string        // full URL, e.g. "https://api.x.ai/v1/chat/completions"
	Model            string        // e.g. "grok-3-mini"
	APIKey           string        // bearer credential, usually from the environment
	Timeout          time.Duration // per-request deadline
	Temperature      float64
	MaxDigestLines   int      // detail lines kept when building the digest
	AbnormalKeywords []string // case-insensitive markers of an abnormal verdict
	LogName          string   // scanned log, embedded in the prompt for context
}

// chatMessage represents a chat message in OpenAI format
type chatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// chatRequest is the request body for an OpenAI-compatible
// /v1/chat/completions endpoint. Stream is always serialized so the
// server never falls back to streaming.
type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

// chatResponse is the response from an OpenAI-compatible
// /v1/chat/completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Client escalates event digests to a remote model and classifies the
// reply. Every failure mode maps to a Verdict with a fixed sentinel
// text; Analyze never returns an error.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time // injectable for tests
}

// NewClient creates a client for the configured endpoint.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
		now: time.Now,
	}
}

// Configured reports whether a bearer credential is present. Callers
// gating an escalation check this first so a missing key surfaces as a
// recorded skip, not a buried config-error verdict.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Analyze builds a digest from the matched detail lines, sends it to
// the model, and classifies the reply against the configured abnormal
// keywords. The returned verdict is always safe to persist: transport,
// protocol, and configuration failures come back as sentinel texts
// with Abnormal unset.
func (c *Client) Analyze(ctx context.Context, details []string, criteria eventlog.Criteria) Verdict {
	if c.cfg.APIKey == "" || c.cfg.Endpoint == "" || c.cfg.Model == "" {
		c.log.Warn().
			Bool("has_key", c.cfg.APIKey != "").
			Bool("has_endpoint", c.cfg.Endpoint != "").
			Bool("has_model", c.cfg.Model != "").
			Msg("Analysis not configured, skipping model call")
		return Verdict{Kind: KindConfigError, Text: TextConfigError}
	}

	summary := digest.Build(details, c.cfg.MaxDigestLines)
	if summary == digest.NoData {
		return Verdict{Kind: KindNoData, Text: TextNoData}
	}

	request := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: c.userPrompt(summary, criteria)},
		},
		Model:       c.cfg.Model,
		Stream:      false,
		Temperature: c.cfg.Temperature,
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return Verdict{Kind: KindRequestError, Text: requestErrorText(err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Verdict{Kind: KindRequestError, Text: requestErrorText(err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	c.log.Info().
		Str("model", c.cfg.Model).
		Int("details", len(details)).
		Msg("Requesting event log analysis")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportVerdict(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportVerdict(err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Error().
			Int("status", resp.StatusCode).
			Msg("Analysis endpoint rejected request")
		return Verdict{Kind: KindRequestError, Text: statusErrorText(resp.StatusCode)}
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		c.log.Error().Err(err).Msg("Analysis response is not valid JSON")
		return Verdict{Kind: KindParseError, Text: TextParseError}
	}

	if len(response.Choices) == 0 {
		c.log.Error().Msg("Analysis response has no choices")
		return Verdict{Kind: KindFormatError, Text: TextFormatError}
	}
	content := strings.TrimSpace(response.Choices[0].Message.Content)
	if content == "" {
		c.log.Error().Msg("Analysis response has empty content")
		return Verdict{Kind: KindFormatError, Text: TextFormatError}
	}

	verdict := c.classify(content)
	c.log.Info().
		Bool("abnormal", verdict.Abnormal).
		Dur("duration", time.Since(start)).
		Msg("Analysis completed")
	return verdict
}

// transportVerdict maps a transport-level failure onto its sentinel.
// Timeouts are checked before connection errors because a timed-out
// dial satisfies both.
func (c *Client) transportVerdict(err error) Verdict {
	c.log.Error().Err(apperrors.SanitizeError(err)).Msg("Analysis request failed")

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Verdict{Kind: KindTimeout, Text: TextTimeout}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Verdict{Kind: KindTimeout, Text: TextTimeout}
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return Verdict{Kind: KindConnectionError, Text: TextConnection}
	}

	return Verdict{Kind: KindRequestError, Text: requestErrorText(err)}
}

// classify marks the model's reply as abnormal or normal based on the
// configured keywords. Matching is case-insensitive on both sides.
func (c *Client) classify(content string) Verdict {
	lower := strings.ToLower(content)
	for _, keyword := range c.cfg.AbnormalKeywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return Verdict{Kind: KindAnalyzed, Text: abnormalPrefix + content, Abnormal: true}
		}
	}
	return Verdict{Kind: KindAnalyzed, Text: normalPrefix + content}
}

func requestErrorText(err error) string {
	return fmt.Sprintf("analysis request failed: %T", err)
}

func statusErrorText(status int) string {
	return fmt.Sprintf("analysis request failed: status %d", status)
}
