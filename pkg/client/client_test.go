package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/lazywall/internal/testutil"
	"github.com/Sternrassler/lazywall/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
)

const testUserAgent = "lazywall-test/1.0 (test@example.com)"

// setupTestRedis creates a test Redis client.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func newTestClient(t *testing.T, baseURL string, redisClient *redis.Client) *Client {
	t.Helper()
	cfg := DefaultConfig(baseURL, testUserAgent)
	cfg.Redis = redisClient
	cfg.ThrottleDelay = time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func transportError(t *testing.T, err error) *TransportError {
	t.Helper()
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	return te
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		errorMsg string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("https://api.example.com", testUserAgent),
		},
		{
			name:     "missing base url",
			config:   DefaultConfig("", testUserAgent),
			errorMsg: "base url is required",
		},
		{
			name:     "unsupported scheme",
			config:   DefaultConfig("ftp://api.example.com", testUserAgent),
			errorMsg: "base url must be http or https",
		},
		{
			name:     "empty user agent",
			config:   DefaultConfig("https://api.example.com", ""),
			errorMsg: "user-agent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("New() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("New() error = %v, want containing %q", err, tt.errorMsg)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("https://api.example.com", testUserAgent)

	if cfg.UserAgent != testUserAgent {
		t.Errorf("UserAgent = %q, want %q", cfg.UserAgent, testUserAgent)
	}
	if cfg.Redis != nil {
		t.Error("Redis should be optional and unset by default")
	}
	if cfg.Timeout <= 0 {
		t.Errorf("Timeout = %v, want > 0", cfg.Timeout)
	}
}

func TestClassifyError(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   ErrorClass
	}{
		{"network error", 0, io.EOF, ErrorClassNetwork},
		{"not found", 404, nil, ErrorClassClient},
		{"forbidden", 403, nil, ErrorClassClient},
		{"too many requests", 429, nil, ErrorClassRateLimit},
		{"internal error", 500, nil, ErrorClassServer},
		{"unavailable", 503, nil, ErrorClassServer},
		{"stray not modified", 304, nil, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.statusCode > 0 {
				resp = &http.Response{StatusCode: tt.statusCode}
			}
			if got := c.classifyError(resp, tt.err); got != tt.expected {
				t.Errorf("classifyError() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFetchPage(t *testing.T) {
	mock := testutil.NewMockAPI(5)
	defer mock.Close()
	c := newTestClient(t, mock.URL(), nil)

	descs, err := c.FetchPage(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("len(descs) = %d, want 2", len(descs))
	}
	if descs[0].ID != "image-1" || descs[1].ID != "image-2" {
		t.Errorf("ids = %s,%s, want image-1,image-2", descs[0].ID, descs[1].ID)
	}
	if descs[0].URL != mock.ImageURL(1) {
		t.Errorf("URL = %s, want %s", descs[0].URL, mock.ImageURL(1))
	}
	if descs[0].AltText != "Image 1" {
		t.Errorf("AltText = %q, want %q", descs[0].AltText, "Image 1")
	}

	if got := mock.GetLastRequestHeader().Get("User-Agent"); got != testUserAgent {
		t.Errorf("User-Agent = %q, want %q", got, testUserAgent)
	}
}

func TestFetchPage_PartialAndEmpty(t *testing.T) {
	mock := testutil.NewMockAPI(5)
	defer mock.Close()
	c := newTestClient(t, mock.URL(), nil)
	ctx := context.Background()

	descs, err := c.FetchPage(ctx, 3, 2)
	if err != nil {
		t.Fatalf("FetchPage(3) error = %v", err)
	}
	if len(descs) != 1 || descs[0].ID != "image-5" {
		t.Errorf("FetchPage(3) = %+v, want only image-5", descs)
	}

	descs, err = c.FetchPage(ctx, 4, 2)
	if err != nil {
		t.Fatalf("FetchPage(4) error = %v", err)
	}
	if len(descs) != 0 {
		t.Errorf("FetchPage(4) len = %d, want 0", len(descs))
	}

	if got := mock.GetPageRequests(); len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("page requests = %v, want [3 4]", got)
	}
}

func TestFetchPage_ResolvesRelativeURLs(t *testing.T) {
	mock := testutil.NewMockAPI(0)
	defer mock.Close()
	mock.SetResponse("/images", testutil.NewHealthyResponse(`[{"id":"a","url":"/img/1.jpg","alt":"A"}]`))
	c := newTestClient(t, mock.URL(), nil)

	descs, err := c.FetchPage(context.Background(), 1, 30)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if descs[0].URL != mock.ImageURL(1) {
		t.Errorf("URL = %s, want %s", descs[0].URL, mock.ImageURL(1))
	}
}

func TestFetchPage_Errors(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(m *testutil.MockAPI)
		wantClass ErrorClass
		retryable bool
	}{
		{
			name:      "server error",
			setup:     func(m *testutil.MockAPI) { m.FailNextPages(1) },
			wantClass: ErrorClassServer,
			retryable: true,
		},
		{
			name: "malformed body",
			setup: func(m *testutil.MockAPI) {
				m.SetResponse("/images", testutil.NewHealthyResponse(`{"not":"a list"`))
			},
			wantClass: ErrorClassDecode,
		},
		{
			name: "rate limited",
			setup: func(m *testutil.MockAPI) {
				m.SetResponse("/images", testutil.NewRateLimitResponse())
			},
			wantClass: ErrorClassRateLimit,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockAPI(10)
			defer mock.Close()
			tt.setup(mock)
			c := newTestClient(t, mock.URL(), nil)

			_, err := c.FetchPage(context.Background(), 1, 5)
			te := transportError(t, err)
			if te.ErrorClass != tt.wantClass {
				t.Errorf("ErrorClass = %q, want %q", te.ErrorClass, tt.wantClass)
			}
			if te.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", te.Retryable(), tt.retryable)
			}
		})
	}
}

func TestFetchTotalCount(t *testing.T) {
	mock := testutil.NewMockAPI(300)
	defer mock.Close()
	c := newTestClient(t, mock.URL(), nil)

	total, err := c.FetchTotalCount(context.Background())
	if err != nil {
		t.Fatalf("FetchTotalCount() error = %v", err)
	}
	if total != 300 {
		t.Errorf("total = %d, want 300", total)
	}
}

func TestFetchTotalCount_InvalidBodies(t *testing.T) {
	for _, body := range []string{`{}`, `{"total":-3}`, `not json`} {
		t.Run(body, func(t *testing.T) {
			mock := testutil.NewMockAPI(0)
			defer mock.Close()
			mock.SetResponse("/images/count", testutil.NewHealthyResponse(body))
			c := newTestClient(t, mock.URL(), nil)

			_, err := c.FetchTotalCount(context.Background())
			if te := transportError(t, err); te.ErrorClass != ErrorClassDecode {
				t.Errorf("ErrorClass = %q, want decode", te.ErrorClass)
			}
		})
	}
}

func TestLoadResource(t *testing.T) {
	mock := testutil.NewMockAPI(10)
	defer mock.Close()
	mock.FailEvery(4)
	c := newTestClient(t, mock.URL(), nil)
	ctx := context.Background()

	if err := c.LoadResource(ctx, mock.ImageURL(1)); err != nil {
		t.Errorf("LoadResource(1) error = %v", err)
	}

	err := c.LoadResource(ctx, mock.ImageURL(4))
	te := transportError(t, err)
	if te.StatusCode != http.StatusNotFound || te.ErrorClass != ErrorClassClient {
		t.Errorf("LoadResource(4) = %v, want 404 client error", te)
	}

	if got := mock.GetImageRequests(); got != 2 {
		t.Errorf("image requests = %d, want 2", got)
	}
}

func TestLoadResource_NetworkError(t *testing.T) {
	mock := testutil.NewMockAPI(1)
	target := mock.ImageURL(1)
	mock.Close()

	c := newTestClient(t, "http://127.0.0.1:1", nil)
	err := c.LoadResource(context.Background(), target)
	if te := transportError(t, err); te.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %q, want network", te.ErrorClass)
	}
}

func TestClient_ConditionalRequestServedFromCache(t *testing.T) {
	redisClient := setupTestRedis(t)
	mock := testutil.NewMockAPI(4)
	defer mock.Close()
	c := newTestClient(t, mock.URL(), redisClient)
	ctx := context.Background()

	first, err := c.FetchPage(ctx, 1, 2)
	if err != nil {
		t.Fatalf("first FetchPage() error = %v", err)
	}
	second, err := c.FetchPage(ctx, 1, 2)
	if err != nil {
		t.Fatalf("second FetchPage() error = %v", err)
	}

	if mock.GetConditionalCount() != 1 {
		t.Errorf("conditional requests = %d, want 1", mock.GetConditionalCount())
	}
	if len(second) != len(first) || second[1].ID != first[1].ID {
		t.Errorf("cached page = %+v, want %+v", second, first)
	}
}

func TestClient_RateLimitBlock(t *testing.T) {
	redisClient := setupTestRedis(t)
	ctx := context.Background()

	now := time.Now()
	redisClient.Set(ctx, ratelimit.RedisKeyRemaining, 1, 0)
	redisClient.Set(ctx, ratelimit.RedisKeyResetTimestamp, now.Add(60*time.Second).Unix(), 0)
	lastUpdateJSON, _ := json.Marshal(now)
	redisClient.Set(ctx, ratelimit.RedisKeyLastUpdate, lastUpdateJSON, 0)

	mock := testutil.NewMockAPI(4)
	defer mock.Close()
	c := newTestClient(t, mock.URL(), redisClient)

	_, err := c.FetchPage(ctx, 1, 2)
	te := transportError(t, err)
	if te.ErrorClass != ErrorClassRateLimit || !errors.Is(err, ratelimit.ErrBlocked) {
		t.Errorf("error = %v, want blocked rate_limit error", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("requests = %d, want 0 while blocked", mock.GetRequestCount())
	}
}
