// Package testutil provides an httptest image API for client and
// end-to-end tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockImage is one listing entry served by MockAPI.
type MockImage struct {
	ID  string `json:"id"`
	URL string `json:"url"`
	Alt string `json:"alt"`
}

// MockAPI serves a paginated image listing, a total count and the image
// bytes themselves, with configurable failures.
//
//	GET /images?page=N&limit=M  -> [{"id","url","alt"}]
//	GET /images/count           -> {"total": N}
//	GET /img/<n>.jpg            -> image bytes
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	total         int
	failEvery     int
	failImages    map[int]bool
	pageFailures  int
	countFailures int
	etag          string

	// Tracking
	RequestCount      int
	ConditionalCount  int
	ImageRequests     int
	PageRequests      []int
	LastRequestHeader http.Header
}

// NewMockAPI creates a mock API listing total images.
func NewMockAPI(total int) *MockAPI {
	m := &MockAPI{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		total:      total,
		failImages: make(map[int]bool),
		etag:       fmt.Sprintf(`"listing-%d"`, total),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.RequestCount++
		m.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			m.ConditionalCount++
		}
		handler, exists := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		switch {
		case r.URL.Path == "/images":
			m.servePage(w, r)
		case r.URL.Path == "/images/count":
			m.serveCount(w, r)
		case strings.HasPrefix(r.URL.Path, "/img/"):
			m.serveImage(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.ImageRequests = 0
	m.PageRequests = nil
	m.LastRequestHeader = nil
}

// SetHandler overrides the handler for a path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// FailEvery makes every nth image (1-based) fail with 404. Zero disables.
func (m *MockAPI) FailEvery(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEvery = n
}

// FailImage makes the image with ordinal n fail with 404.
func (m *MockAPI) FailImage(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failImages[n] = true
}

// HealImage clears a failure set by FailImage.
func (m *MockAPI) HealImage(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failImages, n)
}

// FailNextPages makes the next n page requests answer 503.
func (m *MockAPI) FailNextPages(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageFailures = n
}

// FailNextCounts makes the next n count requests answer 503.
func (m *MockAPI) FailNextCounts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countFailures = n
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockAPI) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetImageRequests returns the number of image byte requests.
func (m *MockAPI) GetImageRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ImageRequests
}

// GetPageRequests returns the requested page indices in order.
func (m *MockAPI) GetPageRequests() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.PageRequests...)
}

// GetLastRequestHeader returns a copy of the headers of the last request.
func (m *MockAPI) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// ImageURL returns the locator of the image with ordinal n.
func (m *MockAPI) ImageURL(n int) string {
	return fmt.Sprintf("%s/img/%d.jpg", m.server.URL, n)
}

func (m *MockAPI) setDefaultHeaders(w http.ResponseWriter) {
	w.Header().Set("X-RateLimit-Remaining", "100")
	w.Header().Set("X-RateLimit-Reset", "60")
}

func (m *MockAPI) servePage(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 30
	}

	m.mu.Lock()
	m.PageRequests = append(m.PageRequests, page)
	fail := m.pageFailures > 0
	if fail {
		m.pageFailures--
	}
	m.mu.Unlock()

	m.setDefaultHeaders(w)
	if fail {
		http.Error(w, `{"error":"listing unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	etag := fmt.Sprintf(`"page-%d-%d-%d"`, page, limit, m.total)
	if r.Header.Get("If-None-Match") == etag {
		w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))
		w.WriteHeader(http.StatusNotModified)
		return
	}

	images := make([]MockImage, 0, limit)
	for i := (page-1)*limit + 1; i <= page*limit && i <= m.total; i++ {
		images = append(images, MockImage{
			ID:  fmt.Sprintf("image-%d", i),
			URL: m.ImageURL(i),
			Alt: fmt.Sprintf("Image %d", i),
		})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(images)
}

func (m *MockAPI) serveCount(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	fail := m.countFailures > 0
	if fail {
		m.countFailures--
	}
	m.mu.Unlock()

	m.setDefaultHeaders(w)
	if fail {
		http.Error(w, `{"error":"count unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	if r.Header.Get("If-None-Match") == m.etag {
		w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("ETag", m.etag)
	w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"total":%d}`, m.total)
}

func (m *MockAPI) serveImage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/img/"), ".jpg")
	n, err := strconv.Atoi(name)

	m.mu.Lock()
	m.ImageRequests++
	fail := err != nil || n < 1 || m.failImages[n] || (m.failEvery > 0 && n%m.failEvery == 0)
	m.mu.Unlock()

	m.setDefaultHeaders(w)
	if fail {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	// JPEG SOI/EOI markers are enough for a byte-level load.
	w.Write([]byte{0xFF, 0xD8, 0xFF, 0xD9})
}

// NewHealthyResponse creates a 200 OK JSON response with budget headers.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "100",
			"X-RateLimit-Reset":     "60",
			"ETag":                  `"test-etag-123"`,
			"Expires":               time.Now().Add(5 * time.Minute).Format(http.TimeFormat),
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     "30",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
