// Package rest implements mirror.Fetcher against the chat platform HTTP API.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"ex-mirror/pkg/mirror"
)

const (
	// TokenHeader carries the bot token on every request.
	TokenHeader = "X-Bot-Token"
	// RateLimitResetHeader carries the milliseconds to wait after a 429.
	RateLimitResetHeader = "X-RateLimit-Reset-After"

	defaultMaxRetries = 5
	maxResponseBytes  = 8 << 20
)

// StatusError reports a non-success HTTP response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}

	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client fetches users and members over HTTP with retry on transient failures.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries uint64
	newBackOff func() backoff.BackOff
	sleep      func(ctx context.Context, wait time.Duration) error
}

// Option mutates client construction.
type Option func(*Client)

// WithHTTPClient replaces the HTTP transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// WithMaxRetries bounds retries per request; zero disables retry.
func WithMaxRetries(retries uint64) Option {
	return func(client *Client) {
		client.maxRetries = retries
	}
}

// WithBackOff replaces the retry schedule for transient failures.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(client *Client) {
		if factory != nil {
			client.newBackOff = factory
		}
	}
}

// New creates a REST client rooted at baseURL.
func New(baseURL, token string, options ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("rest new: parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("rest new: base url %q must be http or https", baseURL)
	}
	if token == "" {
		return nil, fmt.Errorf("rest new: empty token")
	}

	client := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			policy := backoff.NewExponentialBackOff()
			policy.InitialInterval = 250 * time.Millisecond
			policy.MaxInterval = 5 * time.Second
			policy.MaxElapsedTime = 0
			return policy
		},
		sleep: sleepContext,
	}
	for _, option := range options {
		option(client)
	}

	return client, nil
}

// FetchSelf returns the authenticated account.
func (c *Client) FetchSelf(ctx context.Context) (mirror.User, error) {
	var user mirror.User
	if err := c.getJSON(ctx, "/users/@me", &user); err != nil {
		return mirror.User{}, fmt.Errorf("rest fetch self: %w", err)
	}

	return user, nil
}

// FetchUser returns one user.
func (c *Client) FetchUser(ctx context.Context, userID string) (mirror.User, error) {
	var user mirror.User
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID), &user); err != nil {
		return mirror.User{}, fmt.Errorf("rest fetch user %s: %w", userID, err)
	}

	return user, nil
}

// FetchMember returns one server membership.
func (c *Client) FetchMember(ctx context.Context, serverID, userID string) (mirror.Member, error) {
	var member mirror.Member
	path := "/servers/" + url.PathEscape(serverID) + "/members/" + url.PathEscape(userID)
	if err := c.getJSON(ctx, path, &member); err != nil {
		return mirror.Member{}, fmt.Errorf("rest fetch member %s/%s: %w", serverID, userID, err)
	}
	member.ID = mirror.MemberKey{ServerID: serverID, UserID: userID}

	return member, nil
}

// FetchMembers lists every member of one server. Both the bare array form
// and the {members, users} form of the response are accepted.
func (c *Client) FetchMembers(ctx context.Context, serverID string) ([]mirror.Member, error) {
	body, err := c.get(ctx, "/servers/"+url.PathEscape(serverID)+"/members")
	if err != nil {
		return nil, fmt.Errorf("rest fetch members %s: %w", serverID, err)
	}

	raw := body
	if parsed := gjson.ParseBytes(body); parsed.IsObject() {
		list := parsed.Get("members")
		if !list.IsArray() {
			return nil, fmt.Errorf("rest fetch members %s: response has no members array", serverID)
		}
		raw = []byte(list.Raw)
	}

	var members []mirror.Member
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, fmt.Errorf("rest fetch members %s: decode: %w", serverID, err)
	}
	for idx := range members {
		members[idx].ID.ServerID = serverID
	}

	return members, nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	return nil
}

// get performs one GET with retry. A rate-limited attempt waits out the
// server's reset header before the retry schedule applies.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	operation := func() error {
		payload, err := c.do(ctx, path)
		if err != nil {
			return err
		}
		body = payload

		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "rest request retry",
			"path", path,
			"wait", wait,
			"error", err,
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}

	return body, nil
}

// do sends one request and classifies the response. Errors wrapped in
// backoff.Permanent are never retried.
func (c *Client) do(ctx context.Context, path string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	request.Header.Set(TokenHeader, c.token)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	statusErr := &StatusError{
		Method: http.MethodGet,
		Path:   path,
		Status: response.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return body, nil
	case response.StatusCode == http.StatusUnauthorized:
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", mirror.ErrInvalidSession, statusErr))
	case response.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", mirror.ErrNotFound, statusErr))
	case response.StatusCode == http.StatusTooManyRequests:
		wait := resetAfter(response.Header)
		c.logger.WarnContext(ctx, "rest rate limited", "path", path, "reset_after", wait)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("%w: %w", mirror.ErrRateLimited, statusErr)
	case response.StatusCode >= 500:
		return nil, statusErr
	default:
		return nil, backoff.Permanent(statusErr)
	}
}

// resetAfter reads the rate-limit reset header in milliseconds.
func resetAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get(RateLimitResetHeader))
	if raw == "" {
		return 0
	}
	millis, err := strconv.ParseFloat(raw, 64)
	if err != nil || millis < 0 {
		return 0
	}

	return time.Duration(millis * float64(time.Millisecond))
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ mirror.Fetcher = (*Client)(nil)
