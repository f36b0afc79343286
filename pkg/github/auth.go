package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/majordomo/pkg/debug"
)

// tokenRotationMargin is how long before expiry a cached installation
// token is replaced.
const tokenRotationMargin = 5 * time.Minute

// authenticator produces the Authorization header value for a request.
type authenticator interface {
	authorization(ctx context.Context) (string, error)
}

type tokenAuth struct {
	token string
}

func (a *tokenAuth) authorization(context.Context) (string, error) {
	return "Bearer " + a.token, nil
}

// appAuth exchanges App JWTs for installation tokens.
type appAuth struct {
	appID          int64
	installationID int64
	signer         *rsa.PrivateKey

	// Set by the owning Client; the exchange uses the client's transport
	// and base URL.
	httpClient *http.Client
	baseURL    string
	nowFunc    func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newAppAuth(appID, installationID int64, privateKeyPEM []byte) (*appAuth, error) {
	key, err := jwtlib.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("github: parsing private key: %w", err)
	}
	return &appAuth{
		appID:          appID,
		installationID: installationID,
		signer:         key,
		nowFunc:        time.Now,
	}, nil
}

func (a *appAuth) authorization(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.nowFunc().Before(a.expiresAt.Add(-tokenRotationMargin)) {
		return "Bearer " + a.token, nil
	}

	token, expiresAt, err := a.rotate(ctx)
	if err != nil {
		return "", err
	}
	a.token = token
	a.expiresAt = expiresAt
	debug.Log("github", "installation token rotated", "installation_id", a.installationID, "expires_at", expiresAt)
	return "Bearer " + token, nil
}

// rotate must be called with a.mu held.
func (a *appAuth) rotate(ctx context.Context) (string, time.Time, error) {
	appJWT, err := a.signJWT()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("github: signing app JWT: %w", err)
	}

	url := a.baseURL + "/app/installations/" + strconv.FormatInt(a.installationID, 10) + "/access_tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("github: creating token exchange request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("github: token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, decodeAPIError(resp)
	}

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", time.Time{}, fmt.Errorf("github: decoding token exchange response: %w", err)
	}
	if result.Token == "" {
		return "", time.Time{}, fmt.Errorf("github: token exchange returned empty token")
	}
	return result.Token, result.ExpiresAt, nil
}

// signJWT issues the short-lived App assertion. iat is backdated a minute
// to tolerate clock drift against GitHub.
func (a *appAuth) signJWT() (string, error) {
	now := a.nowFunc()
	claims := jwtlib.RegisteredClaims{
		Issuer:    strconv.FormatInt(a.appID, 10),
		IssuedAt:  jwtlib.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(10 * time.Minute)),
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims).SignedString(a.signer)
}

// decodeAPIError reads a GitHub error body. The body is optional; a
// response without JSON still yields an *APIError with the status code.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Message          string `json:"message"`
		DocumentationURL string `json:"documentation_url"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Message = payload.Message
		apiErr.DocumentationURL = payload.DocumentationURL
	}
	return apiErr
}
