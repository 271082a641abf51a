// Package testutil provides testing utilities for the woodpecker fetcher.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock backend response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockTreehole is a configurable mock treehole backend for testing.
//
// By default it serves generated pages: list and search pages hold
// pageSize holes with IDs (page-1)*pageSize+1 through page*pageSize, point
// lookups return the requested hole or its replies.
type MockTreehole struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	failing  map[int]MockResponse
	held     map[int]bool
	release  chan struct{}
	delay    time.Duration

	// Tracking
	requestCount      int
	inFlight          int
	maxInFlight       int
	pages             []int
	lastRequestHeader http.Header
}

// NewMockTreehole creates a new mock backend.
func NewMockTreehole() *MockTreehole {
	mock := &MockTreehole{
		handlers: make(map[string]http.HandlerFunc),
		failing:  make(map[int]MockResponse),
		held:     make(map[int]bool),
		release:  make(chan struct{}),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockTreehole) serve(w http.ResponseWriter, r *http.Request) {
	page := pageOf(r)

	m.mu.Lock()
	m.requestCount++
	m.inFlight++
	m.maxInFlight = max(m.maxInFlight, m.inFlight)
	m.pages = append(m.pages, page)
	m.lastRequestHeader = r.Header.Clone()
	handler, hasHandler := m.handlers[r.URL.Path]
	failure, failing := m.failing[page]
	held := m.held[page]
	release := m.release
	delay := m.delay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if held {
		<-release
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	switch {
	case failing:
		writeResponse(w, failure)
	case hasHandler:
		handler(w, r)
	default:
		m.defaultHandler(w, r)
	}
}

// URL returns the API root of the mock server, with a trailing slash.
func (m *MockTreehole) URL() string {
	return m.server.URL + "/api/"
}

// Close releases held requests and shuts down the mock server.
func (m *MockTreehole) Close() {
	m.Release()
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockTreehole) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.maxInFlight = 0
	m.pages = nil
	m.lastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockTreehole) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockTreehole) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// FailPage makes every request for page answer with resp.
func (m *MockTreehole) FailPage(page int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[page] = resp
}

// HoldPages blocks requests for the given pages until Release is called.
func (m *MockTreehole) HoldPages(pages ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pages {
		m.held[p] = true
	}
}

// Release unblocks every held request. It is safe to call more than once.
func (m *MockTreehole) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.release:
	default:
		close(m.release)
	}
}

// SetDelay delays every response.
func (m *MockTreehole) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockTreehole) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// GetInFlight returns the number of requests currently being served.
func (m *MockTreehole) GetInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// GetMaxInFlight returns the highest number of concurrent requests seen.
func (m *MockTreehole) GetMaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// GetRequestedPages returns the requested page numbers in arrival order.
func (m *MockTreehole) GetRequestedPages() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pages...)
}

// GetSortedPages returns the requested page numbers in ascending order.
func (m *MockTreehole) GetSortedPages() []int {
	pages := m.GetRequestedPages()
	sort.Ints(pages)
	return pages
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockTreehole) GetLastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequestHeader
}

// defaultHandler serves generated backend pages.
func (m *MockTreehole) defaultHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch {
	case strings.HasSuffix(r.URL.Path, "/pku_hole"), strings.HasSuffix(r.URL.Path, "/follow"):
		w.Write([]byte(HolePageBody(pageOf(r), intParam(q.Get("limit"), 25))))
	case q.Get("action") == "search":
		w.Write([]byte(HolePageBody(pageOf(r), intParam(q.Get("pagesize"), 50))))
	case q.Get("action") == "getone":
		pid, _ := strconv.ParseUint(q.Get("pid"), 10, 64)
		w.Write([]byte(SingleHoleBody(pid)))
	case q.Get("action") == "getcomment":
		pid, _ := strconv.ParseUint(q.Get("pid"), 10, 64)
		w.Write([]byte(ReplyPageBody(pid, 3)))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code": 404, "msg": "not found"}`))
	}
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
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
}

func pageOf(r *http.Request) int {
	return intParam(r.URL.Query().Get("page"), 1)
}

func intParam(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// Wire timestamps shared by generated bodies.
const (
	HoleTimestamp = 1653983358
	PageTimestamp = 1653990000
)

func rawHole(pid uint64) map[string]any {
	return map[string]any{
		"pid":       strconv.FormatUint(pid, 10),
		"hidden":    "0",
		"text":      "hole " + strconv.FormatUint(pid, 10),
		"type":      "text",
		"url":       "",
		"timestamp": strconv.Itoa(HoleTimestamp),
		"reply":     "0",
		"likenum":   "0",
		"tag":       nil,
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// HolePageBody returns a hole page holding pageSize holes.
func HolePageBody(page, pageSize int) string {
	data := make([]map[string]any, 0, pageSize)
	first := uint64((page-1)*pageSize) + 1
	for i := 0; i < pageSize; i++ {
		data = append(data, rawHole(first+uint64(i)))
	}
	return mustJSON(map[string]any{"code": 0, "data": data, "timestamp": PageTimestamp})
}

// SingleHoleBody returns a point lookup answer for pid.
func SingleHoleBody(pid uint64) string {
	return mustJSON(map[string]any{"code": 0, "data": rawHole(pid), "timestamp": PageTimestamp})
}

// ReplyPageBody returns a reply thread of n replies under pid.
func ReplyPageBody(pid uint64, n int) string {
	data := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		data = append(data, map[string]any{
			"cid":       pid*100 + uint64(i),
			"pid":       strconv.FormatUint(pid, 10),
			"name":      "Alice",
			"text":      "[洞主] reply " + strconv.Itoa(i),
			"islz":      0,
			"timestamp": HoleTimestamp + i,
			"tag":       nil,
		})
	}
	return mustJSON(map[string]any{"code": 0, "data": data, "attention": 0})
}

// NewHealthyResponse creates a standard 200 OK response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"code": 500, "msg": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewMalformedResponse creates a 200 OK response that is not a hole page.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html><body>502 Bad Gateway</body></html>`,
		Headers:    map[string]string{"Content-Type": "text/html"},
	}
}

// NewUnauthorizedResponse creates the backend's error envelope for a bad token.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"code": 401, "msg": "unauthorized"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
