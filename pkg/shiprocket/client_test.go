package shiprocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covercraft/covercraft-backend/pkg/config"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func testConfig() config.ShiprocketConfig {
	return config.ShiprocketConfig{
		Email:            "ops@covercraft.in",
		Password:         "pw",
		BaseURL:          "http://carrier.test",
		Timeout:          time.Second,
		TokenTTL:         time.Hour,
		WebhookSecret:    "hook-secret",
		WebhookHeader:    "x-api-key",
		PickupLocation:   "Warehouse",
		PackageLengthCM:  15,
		PackageBreadthCM: 10,
		PackageHeightCM:  2,
		PackageWeightKG:  0.2,
	}
}

func isLogin(req *http.Request) bool {
	return req.URL.Path == "/v1/external/auth/login"
}

func newTestClient(t *testing.T, rt roundTripFunc, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithHTTPClient(&http.Client{Transport: rt})}, opts...)
	c, err := NewClient(testConfig(), opts...)
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(config.ShiprocketConfig{Password: "pw"})
	assert.ErrorIs(t, err, errEmailRequired)
	_, err = NewClient(config.ShiprocketConfig{Email: "a@b.c"})
	assert.ErrorIs(t, err, errPasswordRequired)

	c, err := NewClient(config.ShiprocketConfig{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, defaultBaseURL, c.baseURL)
	assert.Equal(t, defaultTokenTTL, c.tokenTTL)
	assert.Equal(t, "Primary", c.pickupLocation)
}

func TestTokenLoginIsCached(t *testing.T) {
	var logins int32
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		require.True(t, isLogin(req))
		atomic.AddInt32(&logins, 1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "ops@covercraft.in", body["email"])
		assert.Equal(t, "pw", body["password"])
		return jsonResponse(http.StatusOK, `{"token":"tok-1"}`), nil
	})

	for i := 0; i < 3; i++ {
		tok, err := c.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&logins))
}

func TestTokenConcurrentCallersShareOneLogin(t *testing.T) {
	var logins int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/external/auth/login" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&logins, 1)
		<-release
		_, _ = w.Write([]byte(`{"token":"shared"}`))
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(), WithBaseURL(srv.URL))
	require.NoError(t, err)

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.Token(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", tokens[i])
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&logins))
}

func TestTokenRefreshesAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var logins int32
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&logins, 1)
		if n == 1 {
			return jsonResponse(http.StatusOK, `{"token":"old"}`), nil
		}
		return jsonResponse(http.StatusOK, `{"token":"new"}`), nil
	}, WithClock(func() time.Time { return now }))

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", tok)

	now = now.Add(59 * time.Minute)
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", tok)

	now = now.Add(time.Minute)
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
	assert.EqualValues(t, 2, atomic.LoadInt32(&logins))
}

func TestLoginFailureIsCarrierError(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadRequest, `{"message":"Invalid email and password combination"}`), nil
	})
	_, err := c.Token(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCarrierRejected))
	assert.Equal(t, "Invalid email and password combination", pkgerrors.As(err).Message())
}

func TestUnauthorizedRetriesOnceWithFreshToken(t *testing.T) {
	var logins, calls int32
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if isLogin(req) {
			n := atomic.AddInt32(&logins, 1)
			if n == 1 {
				return jsonResponse(http.StatusOK, `{"token":"stale"}`), nil
			}
			return jsonResponse(http.StatusOK, `{"token":"fresh"}`), nil
		}
		atomic.AddInt32(&calls, 1)
		if req.Header.Get("Authorization") == "Bearer stale" {
			return jsonResponse(http.StatusUnauthorized, `{"message":"Token has expired"}`), nil
		}
		assert.Equal(t, "Bearer fresh", req.Header.Get("Authorization"))
		return jsonResponse(http.StatusOK, `{"pickup_status":1,"response":{"pickup_token_number":"PT1"}}`), nil
	})

	pickup, err := c.RequestPickup(context.Background(), 555)
	require.NoError(t, err)
	assert.Equal(t, "PT1", pickup.TokenNumber)
	assert.EqualValues(t, 2, atomic.LoadInt32(&logins))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestSecondUnauthorizedIsCarrierUnavailable(t *testing.T) {
	var logins, calls int32
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if isLogin(req) {
			atomic.AddInt32(&logins, 1)
			return jsonResponse(http.StatusOK, `{"token":"tok"}`), nil
		}
		atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusUnauthorized, `{"message":"Unauthenticated."}`), nil
	})

	_, err := c.RequestPickup(context.Background(), 555)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCarrierUnavailable))
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.EqualValues(t, 2, atomic.LoadInt32(&logins))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestInvalidateKeepsNewerToken(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"token":"t"}`), nil
	})
	c.token = "newer"
	c.expiresAt = time.Now().Add(time.Hour)

	c.invalidate("older")
	tok, ok := c.cached()
	assert.True(t, ok)
	assert.Equal(t, "newer", tok)

	c.invalidate("newer")
	_, ok = c.cached()
	assert.False(t, ok)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name    string
		resp    *http.Response
		err     error
		code    pkgerrors.Code
		message string
	}{
		{
			name:    "validation 4xx surfaces provider message",
			resp:    jsonResponse(http.StatusUnprocessableEntity, `{"message":"Oops! Invalid Data.","errors":{"billing_pincode":["The billing pincode must be 6 digits."]}}`),
			code:    pkgerrors.CodeCarrierRejected,
			message: "Oops! Invalid Data.; billing_pincode: The billing pincode must be 6 digits.",
		},
		{
			name:    "field errors are listed in field order",
			resp:    jsonResponse(http.StatusUnprocessableEntity, `{"message":"Invalid Data.","errors":{"weight":["required"],"billing_phone":["must be 10 digits"],"length":["min 0.5"]}}`),
			code:    pkgerrors.CodeCarrierRejected,
			message: "Invalid Data.; billing_phone: must be 10 digits; length: min 0.5; weight: required",
		},
		{
			name:    "plain text 4xx",
			resp:    jsonResponse(http.StatusBadRequest, `bad things`),
			code:    pkgerrors.CodeCarrierRejected,
			message: "bad things",
		},
		{
			name: "5xx is retryable",
			resp: jsonResponse(http.StatusBadGateway, ``),
			code: pkgerrors.CodeCarrierUnavailable,
		},
		{
			name: "network failure",
			err:  errors.New("dial tcp: connection refused"),
			code: pkgerrors.CodeCarrierUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
				if isLogin(req) {
					return jsonResponse(http.StatusOK, `{"token":"tok"}`), nil
				}
				if tc.err != nil {
					return nil, tc.err
				}
				return tc.resp, nil
			})
			_, err := c.RecommendedCouriers(context.Background(), 555)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
			if tc.message != "" {
				assert.Equal(t, tc.message, pkgerrors.As(err).Message())
			}
		})
	}
}

func TestTimeoutIsCarrierUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/external/auth/login" {
			_, _ = w.Write([]byte(`{"token":"tok"}`))
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(), WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	require.NoError(t, err)

	_, err = c.Track(context.Background(), "AWB1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCarrierUnavailable))
}
