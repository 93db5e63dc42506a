package zimfarm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/openzim/zimit-broker/internal/redact"
)

const (
	// tokenRefreshMargin is how long before expiry the access token is renewed.
	tokenRefreshMargin = 2 * time.Minute

	// defaultTokenLifetime applies when the access token carries no exp claim.
	defaultTokenLifetime = 59 * time.Minute

	// maxErrorBody bounds the raw body kept as the reason of an APIError.
	maxErrorBody = 1024
)

// Config holds the client settings.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	MaxRetries uint64
}

// Client talks to the Zimfarm API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	maxRetries uint64
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	// initialInterval is the first backoff delay.
	initialInterval time.Duration
	// authTimeout bounds a shared login.
	authTimeout time.Duration

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
	auth        singleflight.Group
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout is left untouched.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithRetryInterval sets the first delay between retries.
func WithRetryInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.initialInterval = interval
	}
}

// NewClient creates a Client. No request is made until the first call.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL cannot be empty", ErrInvalidConfig)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		username:        cfg.Username,
		password:        cfg.Password,
		maxRetries:      cfg.MaxRetries,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          logger.With("component", "zimfarm_client"),
		now:             time.Now,
		initialInterval: 500 * time.Millisecond,
		authTimeout:     timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// token returns a valid access token, authenticating when needed.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && c.expiresAt.After(c.now().Add(tokenRefreshMargin)) {
		token := c.accessToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	// The login is shared by every waiter, so it does not inherit the
	// cancellation of the caller that started it.
	ch := c.auth.DoChan("authorize", func() (any, error) {
		authCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.authTimeout)
		defer cancel()
		return c.authenticate(authCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// invalidate drops the cached token if it is still the one that was rejected.
func (c *Client) invalidate(rejected string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == rejected {
		c.accessToken = ""
		c.expiresAt = time.Time{}
	}
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	c.logger.DebugContext(ctx, "authenticating on zimfarm")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/authorize", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build authorization request: %w", err)
	}
	req.Header.Set("username", c.username)
	req.Header.Set("password", c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrUnauthorized, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(http.MethodPost, "/auth/authorize", resp.StatusCode, body)
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, apiErr)
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil || auth.AccessToken == "" {
		return "", fmt.Errorf("%w: no access token in authorization response", ErrMalformedResponse)
	}

	expiresAt := c.tokenExpiry(auth.AccessToken)

	c.mu.Lock()
	c.accessToken = auth.AccessToken
	c.expiresAt = expiresAt
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "authenticated on zimfarm", "expires_at", expiresAt)
	return auth.AccessToken, nil
}

// tokenExpiry reads the exp claim without verifying the signature: the token
// is only forwarded to the farm, which verifies it.
func (c *Client) tokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return c.now().Add(defaultTokenLifetime)
}

// do sends an authenticated JSON request and decodes a successful response
// into out when out is not nil.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s payload: %w", method, path, err)
		}
	}

	retries := uint64(0)
	if method == http.MethodGet || method == http.MethodDelete {
		retries = c.maxRetries
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	bkoff := backoff.WithContext(backoff.WithMaxRetries(eb, retries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.send(ctx, method, path, body, out)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMalformedResponse) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		c.logger.WarnContext(ctx, "zimfarm request failed",
			"method", method,
			"path", path,
			"attempt", attempt,
			"error", redact.Error(err))
		return err
	}, bkoff)
}

// send performs one request. A 401 answer drops the cached token and the
// request is sent once more with a fresh one.
func (c *Client) send(ctx context.Context, method, path string, body []byte, out any) error {
	for reauthenticated := false; ; reauthenticated = true {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}

		status, respBody, err := c.roundTrip(ctx, method, path, token, body)
		if err != nil {
			return err
		}

		if status == http.StatusUnauthorized && !reauthenticated {
			c.logger.InfoContext(ctx, "zimfarm rejected access token, authenticating again")
			c.invalidate(token)
			continue
		}
		if status < 200 || status > 299 {
			return newAPIError(method, path, status, respBody)
		}
		if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: %s %s: %v", ErrMalformedResponse, method, path, err)
		}
		return nil
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Token "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("zimfarm %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("zimfarm %s %s: failed to read response: %w", method, path, err)
	}
	return resp.StatusCode, respBody, nil
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	reason := strings.TrimSpace(string(body))
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		reason = parsed.Error
		if parsed.ErrorDescription != "" {
			reason += ": " + parsed.ErrorDescription
		}
	} else if len(reason) > maxErrorBody {
		reason = reason[:maxErrorBody]
	}
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &APIError{Method: method, Path: path, StatusCode: status, Reason: reason}
}
