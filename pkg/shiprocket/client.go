// Package shiprocket is the carrier client. Every call carries a cached bearer
// token; a 401 triggers one re-authentication and a single retry.
package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/covercraft/covercraft-backend/pkg/config"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
)

const (
	defaultBaseURL        = "https://apiv2.shiprocket.in"
	defaultTimeout        = 15 * time.Second
	defaultTokenTTL       = 216 * time.Hour
	responseBodyReadLimit = 8192
)

var (
	errEmailRequired    = errors.New("shiprocket email is required")
	errPasswordRequired = errors.New("shiprocket password is required")

	// errAuthExpired marks a 401 on an authenticated call.
	errAuthExpired = errors.New("shiprocket token expired")
)

// Package is the parcel size used when an order does not specify one.
type Package struct {
	LengthCM  float64
	BreadthCM float64
	HeightCM  float64
	WeightKG  float64
}

// Client is safe for concurrent use; the token cache is shared by all callers.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	email          string
	password       string
	tokenTTL       time.Duration
	loginTimeout   time.Duration
	pickupLocation string
	pkg            Package
	now            func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	logins    singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithClock replaces time.Now for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(cfg config.ShiprocketConfig, opts ...Option) (*Client, error) {
	email := strings.TrimSpace(cfg.Email)
	if email == "" {
		return nil, errEmailRequired
	}
	if cfg.Password == "" {
		return nil, errPasswordRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	c := &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        defaultBaseURL,
		email:          email,
		password:       cfg.Password,
		tokenTTL:       ttl,
		loginTimeout:   timeout,
		pickupLocation: strings.TrimSpace(cfg.PickupLocation),
		pkg: Package{
			LengthCM:  cfg.PackageLengthCM,
			BreadthCM: cfg.PackageBreadthCM,
			HeightCM:  cfg.PackageHeightCM,
			WeightKG:  cfg.PackageWeightKG,
		},
		now: time.Now,
	}
	WithBaseURL(cfg.BaseURL)(c)
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.pickupLocation == "" {
		c.pickupLocation = "Primary"
	}
	return c, nil
}

// apiError covers the shapes the carrier uses for failures.
type apiError struct {
	Message    string              `json:"message"`
	StatusCode int                 `json:"status_code"`
	Errors     map[string][]string `json:"errors"`
}

func (e apiError) text() string {
	parts := []string{}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	fields := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(e.Errors[field], ", ")))
	}
	return strings.Join(parts, "; ")
}

// call performs an authenticated request with the single 401 retry.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	err = c.send(ctx, op, method, path, token, body, out)
	if !errors.Is(err, errAuthExpired) {
		return err
	}

	c.invalidate(token)
	token, err = c.Token(ctx)
	if err != nil {
		return err
	}
	err = c.send(ctx, op, method, path, token, body, out)
	if errors.Is(err, errAuthExpired) {
		return pkgerrors.Wrap(pkgerrors.CodeCarrierUnavailable, err, op+": carrier rejected a fresh token")
	}
	return err
}

func (c *Client) send(ctx context.Context, op, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op+": marshal request")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op+": build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeCarrierUnavailable, err, op+": carrier unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, responseBodyReadLimit))
		return errAuthExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeCarrierUnavailable, err, op+": decode response")
	}
	return nil
}

// classify maps a non-2xx response: 5xx is retryable, 4xx needs a data fix and
// carries the provider's message verbatim.
func classify(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	msg := strings.TrimSpace(string(raw))
	var parsed apiError
	if json.Unmarshal(raw, &parsed) == nil {
		if text := parsed.text(); text != "" {
			msg = text
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	details := map[string]any{"operation": op, "status": resp.StatusCode}
	if resp.StatusCode >= 500 {
		return pkgerrors.New(pkgerrors.CodeCarrierUnavailable, msg).WithDetails(details)
	}
	return pkgerrors.New(pkgerrors.CodeCarrierRejected, msg).WithDetails(details)
}
