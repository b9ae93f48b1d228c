package shiprocket

import (
	"context"
	"net/http"
	"time"

	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
)

type loginResponse struct {
	Token string `json:"token"`
}

// Token returns the cached bearer token, logging in when it is missing or past
// the local TTL. Concurrent callers share one in-flight login.
func (c *Client) Token(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	ch := c.logins.DoChan("login", func() (any, error) {
		if token, ok := c.cached(); ok {
			return token, nil
		}
		// One caller's cancellation must not fail the login for everyone waiting on it.
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loginTimeout)
		defer cancel()
		return c.login(loginCtx)
	})

	select {
	case <-ctx.Done():
		return "", pkgerrors.Wrap(pkgerrors.CodeCarrierUnavailable, ctx.Err(), "authenticate: waiting for login")
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) login(ctx context.Context) (string, error) {
	body := map[string]string{"email": c.email, "password": c.password}
	var out loginResponse
	if err := c.send(ctx, "authenticate", http.MethodPost, "/v1/external/auth/login", "", body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", pkgerrors.New(pkgerrors.CodeCarrierUnavailable, "authenticate: login response missing token")
	}

	c.mu.Lock()
	c.token = out.Token
	c.expiresAt = c.now().Add(c.tokenTTL)
	c.mu.Unlock()
	return out.Token, nil
}

func (c *Client) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !c.now().Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// invalidate drops the cached token only if it is still the one that failed,
// so a token refreshed by another caller survives.
func (c *Client) invalidate(stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == stale {
		c.token = ""
		c.expiresAt = time.Time{}
	}
}
