// Package telegram is a minimal Bot API client used for outbound messages.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloudbot/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultAPIURL = "https://api.telegram.org"

var ErrNoToken = errors.New("telegram bot token is not configured")

// APIError is a non-ok Bot API reply. StatusCode is the Bot API error_code,
// which mirrors the HTTP status (403 when the user blocked the bot).
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %d %s", e.Code, e.Description)
}

func (e *APIError) StatusCode() int { return e.Code }

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(apiURL, token string, timeout time.Duration, opts ...Option) *Client {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(apiURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var Module = fx.Module("telegram", fx.Provide(newFromConfig))

func newFromConfig(cfg *config.Config) *Client {
	if cfg.Telegram.BotToken == "" {
		zap.L().Warn("TELEGRAM_BOT_TOKEN is empty, outbound messages will fail")
	}
	return NewClient(cfg.Telegram.APIURL, cfg.Telegram.BotToken, cfg.Telegram.Timeout)
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// Send delivers a plain text message to chatID.
func (c *Client) Send(ctx context.Context, chatID, text string) error {
	return c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text, DisableWebPagePreview: true})
}

func (c *Client) call(ctx context.Context, method string, body any) error {
	if c.token == "" {
		return ErrNoToken
	}

	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the URL carries the token, keep it out of the error
		var uErr interface{ Unwrap() error }
		if errors.As(err, &uErr) && uErr.Unwrap() != nil {
			return fmt.Errorf("telegram %s: %w", method, uErr.Unwrap())
		}
		return fmt.Errorf("telegram %s failed", method)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return &APIError{Code: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
	}
	if out.OK {
		return nil
	}

	apiErr := &APIError{Code: out.ErrorCode, Description: out.Description}
	if apiErr.Code == 0 {
		apiErr.Code = resp.StatusCode
	}
	if out.Parameters != nil && out.Parameters.RetryAfter > 0 {
		apiErr.RetryAfter = time.Duration(out.Parameters.RetryAfter) * time.Second
	}
	return apiErr
}
