// Package chat is a minimal Slack Web API client. It covers the two calls
// majordomo makes with the bot token: posting a message on behalf of a
// handler and resolving a channel ID to its name for event routing.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rhuss/majordomo/pkg/debug"
)

// DefaultBaseURL is the Slack Web API root.
const DefaultBaseURL = "https://slack.com/api"

// DisabledToken is the placeholder token older deployments used to mean
// "no Slack workspace configured".
const DisabledToken = "no-slack"

// APIError reports a failed Slack API call. Slack answers most failures
// with HTTP 200 and {"ok": false, "error": "<code>"}.
type APIError struct {
	Method     string
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
	}
	return fmt.Sprintf("slack %s: HTTP %d", e.Method, e.StatusCode)
}

// Client calls the Slack Web API with a bot token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client. It returns nil when token is empty or the
// DisabledToken placeholder, so callers can treat a nil *Client as
// "capability not configured".
func New(token string, opts ...Option) *Client {
	if token == "" || token == DisabledToken {
		return nil
	}
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// PostMessage sends text to channel (an ID or #name).
func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	body, err := json.Marshal(struct {
		Channel string `json:"channel"`
		Text    string `json:"text"`
	}{channel, text})
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var resp envelope
	if err := c.do(req, "chat.postMessage", &resp); err != nil {
		return err
	}
	debug.Log("chat", "message posted", "channel", channel)
	return nil
}

// ChannelName resolves a channel ID to its name via conversations.info.
func (c *Client) ChannelName(ctx context.Context, channelID string) (string, error) {
	q := url.Values{"channel": {channelID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/conversations.info?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	var resp struct {
		envelope
		Channel struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"channel"`
	}
	if err := c.do(req, "conversations.info", &resp); err != nil {
		return "", err
	}
	if resp.Channel.Name == "" {
		return "", &APIError{Method: "conversations.info", StatusCode: http.StatusOK, Code: "missing_channel_name"}
	}
	debug.Log("chat", "channel resolved", "channel_id", channelID, "name", resp.Channel.Name)
	return resp.Channel.Name, nil
}

// do authenticates and sends req, decodes the JSON body into out, and
// converts {"ok": false} into an *APIError. out must embed envelope.
func (c *Client) do(req *http.Request, method string, out interface{ result() envelope }) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Method: method, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("slack %s: decoding response: %w", method, err)
	}

	if r := out.result(); !r.OK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Code: r.Error}
	}
	return nil
}

func (e *envelope) result() envelope {
	return *e
}
