package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/bnema/aider-chat-cli/internal/ports"
)

const (
	DefaultRefreshPath = "/auth/refresh"

	maxRefreshResponseBytes = 1 << 20
	defaultRequestTimeout   = 30 * time.Second
)

var ErrRefreshRejected = errors.New("refresh token rejected")

// RefreshClient exchanges a refresh token for a new access token at the
// managed-model server.
type RefreshClient struct {
	BaseURL        string
	RefreshPath    string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Clock          ports.Clock
}

var _ ports.TokenRefresher = RefreshClient{}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c RefreshClient) Refresh(ctx context.Context, refreshToken string) (domain.Credentials, error) {
	if refreshToken == "" {
		return domain.Credentials{}, errors.New("refresh token is required")
	}

	path := c.RefreshPath
	if path == "" {
		path = DefaultRefreshPath
	}
	endpoint, err := buildAPIURL(c.BaseURL, path)
	if err != nil {
		return domain.Credentials{}, err
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("encode refresh request: %w", err)
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("request token refresh: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return domain.Credentials{}, fmt.Errorf("%w: %s", ErrRefreshRejected, decodeError(resp))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return domain.Credentials{}, fmt.Errorf("request token refresh: %s", decodeError(resp))
	}

	var payload refreshResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRefreshResponseBytes)).Decode(&payload); err != nil {
		return domain.Credentials{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if payload.AccessToken == "" {
		return domain.Credentials{}, errors.New("refresh response missing access token")
	}

	creds := domain.Credentials{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	// Servers may rotate the refresh token or keep the old one.
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}
	if payload.ExpiresIn > 0 {
		creds.ExpiresAt = c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return creds, nil
}

func (c RefreshClient) now() time.Time {
	if c.Clock != nil {
		return c.Clock.Now()
	}
	return time.Now()
}

func (c RefreshClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c RefreshClient) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := c.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	return context.WithTimeout(ctx, requestTimeout)
}

func decodeError(resp *http.Response) string {
	var payload errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRefreshResponseBytes)).Decode(&payload); err != nil {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	switch {
	case payload.Error != "" && payload.Message != "":
		return payload.Error + ": " + payload.Message
	case payload.Error != "":
		return payload.Error
	case payload.Message != "":
		return payload.Message
	default:
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
}

func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("api base url is required")
	}
	if path == "" {
		return "", errors.New("api path is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("api base url host is required")
	}

	return parsed.JoinPath(path).String(), nil
}
