package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

func testConfig() *HTTPConfig {
	cfg := DefaultHTTPConfig()
	cfg.RateLimit = 0
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []int
}

func (r *recordingObserver) ObserveRequest(_ *http.Request, status int, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func TestHTTPClientDecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Accept-Encoding"))
		assert.Equal(t, "source-quickbooks/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = zw.Write([]byte(`{"Header":{"ReportName":"BalanceSheet"}}`))
		_ = zw.Close()
	}))
	defer srv.Close()

	client := NewHTTPClient(testConfig(), zaptest.NewLogger(t))
	defer client.Close()
	obs := &recordingObserver{}
	client.SetObserver(obs)

	resp, err := client.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"Header":{"ReportName":"BalanceSheet"}}`, string(body))
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.Equal(t, []int{200}, obs.statuses)
}

func TestHTTPClientCircuitBreakerOpens(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.CircuitBreaker.FailureThreshold = 3
	cfg.CircuitBreaker.Timeout = time.Hour
	client := NewHTTPClient(cfg, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		resp, err := client.Get(context.Background(), srv.URL, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}

	_, err := client.Get(context.Background(), srv.URL, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	stats := client.GetStats()
	assert.Equal(t, "open", stats.CircuitState)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(4), stats.FailedRequests)
}

func TestCircuitBreakerRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		MinRequests:      100,
		HalfOpenLimit:    1,
	}, zaptest.NewLogger(t))

	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.Equal(t, "closed", cb.GetState().State)
	cb.RecordFailure()
	assert.Equal(t, "open", cb.GetState().State)
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, "half_open", cb.GetState().State)
	assert.False(t, cb.Allow(), "only one probe while half-open")

	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.GetState().State)
	assert.NoError(t, cb.Execute(func() error { return nil }))
}

func TestTokenBucketRateLimiter(t *testing.T) {
	rl := NewTokenBucketRateLimiter(1, 2)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)

	stats := rl.GetStats()
	assert.Equal(t, int64(2), stats.AllowedRequests)
	assert.Equal(t, int64(2), stats.BlockedRequests)
}

func tokenServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return srv
}

func TestRotatingTokenSourceRotates(t *testing.T) {
	var calls int32
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "test_client_id", user)
		assert.Equal(t, "test_client_secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "test_refresh_token", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"fake-token","token_type":"bearer","expires_in":3600,"refresh_token":"rotated"}`)
	})

	var saved []string
	store := TokenStoreFunc(func(_ context.Context, token string) error {
		saved = append(saved, token)
		return nil
	})

	ts := NewRotatingTokenSource(context.Background(), OAuth2Config{
		ClientID:     "test_client_id",
		ClientSecret: "test_client_secret",
		TokenURL:     srv.URL,
		RefreshToken: "test_refresh_token",
	}, srv.Client(), store, zaptest.NewLogger(t))

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fake-token", tok.AccessToken)

	// cached until expiry
	_, err = ts.Token()
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"rotated"}, saved)
	assert.Equal(t, "rotated", ts.RefreshToken())

	stats := ts.GetStats()
	assert.Equal(t, int64(1), stats.TokenRefreshes)
	assert.Equal(t, int64(1), stats.TokenRotations)
	assert.True(t, stats.CurrentTokenValid)
}

func TestRotatingTokenSourceKeepsTokenWhenNotReturned(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"fake-token","token_type":"bearer","expires_in":3600}`)
	})

	store := TokenStoreFunc(func(context.Context, string) error {
		t.Fatal("store must not be called without rotation")
		return nil
	})
	ts := NewRotatingTokenSource(context.Background(), OAuth2Config{
		ClientID: "a", ClientSecret: "b", TokenURL: srv.URL, RefreshToken: "same",
	}, srv.Client(), store, nil)

	_, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "same", ts.RefreshToken())
}

func TestRotatingTokenSourceErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType errors.ErrorType
	}{
		{name: "invalid grant", status: http.StatusBadRequest, body: `{"error":"invalid_grant"}`, wantType: errors.ErrorTypeAuthentication},
		{name: "unauthorized client", status: http.StatusUnauthorized, body: `{"error":"invalid_client"}`, wantType: errors.ErrorTypeAuthentication},
		{name: "server error", status: http.StatusServiceUnavailable, body: `oops`, wantType: errors.ErrorTypeConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			ts := NewRotatingTokenSource(context.Background(), OAuth2Config{
				ClientID: "a", ClientSecret: "b", TokenURL: srv.URL, RefreshToken: "c",
			}, srv.Client(), nil, zaptest.NewLogger(t))

			_, err := ts.Token()
			require.Error(t, err)
			assert.Equal(t, tt.wantType, errors.TypeOf(err))
		})
	}

	empty := NewRotatingTokenSource(context.Background(), OAuth2Config{TokenURL: "http://unused"}, nil, nil, nil)
	_, err := empty.Token()
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestWithTokenSourceAuthorizes(t *testing.T) {
	tokenSrv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"fake-token","token_type":"bearer","expires_in":3600}`)
	})
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fake-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer apiSrv.Close()

	base := NewHTTPClient(testConfig(), zaptest.NewLogger(t))
	ts := NewRotatingTokenSource(context.Background(), OAuth2Config{
		ClientID: "a", ClientSecret: "b", TokenURL: tokenSrv.URL, RefreshToken: "c",
	}, base.StandardClient(), nil, nil)

	authed := base.WithTokenSource(ts)
	resp, err := authed.Get(context.Background(), apiSrv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// stats are shared with the base client
	assert.Equal(t, int64(1), base.GetStats().TotalRequests)
}
