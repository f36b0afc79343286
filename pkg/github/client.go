package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/majordomo/pkg/debug"
)

// DefaultBaseURL is the public GitHub REST API root.
const DefaultBaseURL = "https://api.github.com"

// Issue is the subset of a created issue that callers need.
type Issue struct {
	ID      int64  `json:"id"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
}

// Client talks to the GitHub REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       authenticator
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root, for GitHub Enterprise or tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client used for every request, including
// installation token exchange.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewWithToken creates a client that sends a static token. It returns nil
// when token is empty or DisabledToken.
func NewWithToken(token string, opts ...Option) *Client {
	if token == "" || token == DisabledToken {
		return nil
	}
	return newClient(&tokenAuth{token: token}, opts)
}

// NewWithApp creates a client authenticated as a GitHub App installation.
func NewWithApp(appID, installationID int64, privateKeyPEM []byte, opts ...Option) (*Client, error) {
	if appID <= 0 || installationID <= 0 {
		return nil, fmt.Errorf("github: app_id and installation_id are required")
	}
	auth, err := newAppAuth(appID, installationID, privateKeyPEM)
	if err != nil {
		return nil, err
	}
	c := newClient(auth, opts)
	auth.httpClient = c.httpClient
	auth.baseURL = c.baseURL
	return c, nil
}

func newClient(auth authenticator, opts []Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		auth:       auth,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateIssue opens an issue in repo, given as "owner/name".
func (c *Client) CreateIssue(ctx context.Context, repo, title, body string) (*Issue, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("github: repository %q must be owner/name", repo)
	}

	payload, err := json.Marshal(struct {
		Title string `json:"title"`
		Body  string `json:"body,omitempty"`
	}{title, body})
	if err != nil {
		return nil, fmt.Errorf("github: marshaling issue: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues", c.baseURL, owner, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeAPIError(resp)
	}

	var issue Issue
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("github: decoding issue: %w", err)
	}
	debug.Log("github", "issue created", "repo", repo, "number", issue.Number)
	return &issue, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	authz, err := c.auth.authorization(req.Context())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", authz)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: %s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}
