// Package directory talks to the external contact directory (Google People API) on behalf of
// one linked account.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"

	appErrors "github.com/unclebandit/contactsync-backend/internal/errors"
)

const (
	DefaultBaseURL    = "https://people.googleapis.com/"
	defaultRetryAfter = 60 * time.Second
	maxErrorMessage   = 1024
)

// TokenSaver persists credentials obtained by a refresh.
type TokenSaver func(ctx context.Context, accessToken, refreshToken string) error

// Options are shared by every client of one process.
type Options struct {
	BaseURL    string
	OAuth      *oauth2.Config
	HTTPClient *http.Client
	Logger     *zap.Logger
	Now        func() time.Time
}

// Client wraps one account's credentials. It memoizes labels for its lifetime, so the
// orchestrator builds a fresh client per account per run.
type Client struct {
	svc        *people.Service
	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
	onRefresh  TokenSaver

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	labels       map[string]Label
	warmed       bool
}

func NewClient(opts Options, account, accessToken, refreshToken string, onRefresh TokenSaver) (*Client, error) {
	c := &Client{
		oauth:        opts.OAuth,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
		now:          opts.Now,
		onRefresh:    onRefresh,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		labels:       make(map[string]Label),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("account", account))
	if c.now == nil {
		c.now = time.Now
	}

	endpoint := strings.TrimRight(opts.BaseURL, "/") + "/"
	if endpoint == "/" {
		endpoint = DefaultBaseURL
	}
	// API calls carry whatever access token the client currently holds; the token
	// endpoint itself goes through the bare httpClient.
	authed := &http.Client{
		Transport: &oauth2.Transport{Source: currentToken{c}, Base: c.httpClient.Transport},
		Timeout:   c.httpClient.Timeout,
	}
	svc, err := people.NewService(context.Background(),
		option.WithHTTPClient(authed),
		option.WithEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("people service for %s: %w", account, err)
	}
	c.svc = svc
	return c, nil
}

type currentToken struct{ c *Client }

func (t currentToken) Token() (*oauth2.Token, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return &oauth2.Token{AccessToken: t.c.accessToken, TokenType: "Bearer"}, nil
}

// call runs a prepared API call's Do and maps its failure to a SyncError. A 401 triggers
// exactly one refresh and one more attempt.
func call[T any](ctx context.Context, c *Client, op string, do func(...googleapi.CallOption) (T, error)) (T, error) {
	out, err := do()
	if !unauthorized(err) {
		return out, c.classify(op, err)
	}
	c.logger.Debug("access token rejected, refreshing", zap.String("op", op))
	if err := c.refresh(ctx); err != nil {
		var zero T
		return zero, err
	}
	out, err = do()
	if unauthorized(err) {
		var zero T
		return zero, appErrors.NewTokenInvalid("unauthorized after token refresh", nil)
	}
	return out, c.classify(op, err)
}

func unauthorized(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}

func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	rt := c.refreshToken
	c.mu.Unlock()
	if rt == "" {
		return appErrors.NewTokenInvalid("no refresh token stored", nil)
	}
	if c.oauth == nil {
		return appErrors.NewTokenInvalid("oauth client not configured", nil)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: rt}).Token()
	if err != nil {
		return appErrors.NewTokenInvalid("token refresh failed", err)
	}

	c.mu.Lock()
	c.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		c.refreshToken = tok.RefreshToken
	}
	access, refresh := c.accessToken, c.refreshToken
	c.mu.Unlock()

	c.logger.Info("access token refreshed")
	if c.onRefresh != nil {
		if err := c.onRefresh(ctx, access, refresh); err != nil {
			c.logger.Error("failed to persist refreshed tokens", zap.Error(err))
		}
	}
	return nil
}

func (c *Client) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return appErrors.NewUnknown(0, op, err)
	}

	message := strings.TrimSpace(gerr.Message)
	if message == "" {
		message = strings.TrimSpace(gerr.Body)
	}
	if message == "" {
		message = http.StatusText(gerr.Code)
	}
	if len(message) > maxErrorMessage {
		message = message[:maxErrorMessage]
	}

	switch gerr.Code {
	case http.StatusTooManyRequests:
		return appErrors.NewRateLimited(c.retryAfter(gerr.Header.Get("Retry-After")), message)
	case http.StatusForbidden:
		lower := strings.ToLower(message)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "limit") {
			return appErrors.NewContactLimitExceeded(message)
		}
		return appErrors.NewPermissionDenied(message)
	case http.StatusUnauthorized:
		return appErrors.NewTokenInvalid(message, nil)
	default:
		return appErrors.NewUnknown(gerr.Code, op+": "+message, nil)
	}
}

// retryAfter accepts delta-seconds or an HTTP date, measured against the client's clock.
func (c *Client) retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 1 {
			return time.Second
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(c.now()); d > time.Second {
			return d
		}
		return time.Second
	}
	return defaultRetryAfter
}
