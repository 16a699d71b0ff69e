package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/inbox/common/logging"
	"github.com/telhawk-systems/inbox/common/middleware"
	"github.com/telhawk-systems/inbox/internal/handlers"
	"github.com/telhawk-systems/inbox/internal/ingest"
	"github.com/telhawk-systems/inbox/internal/merge"
	"github.com/telhawk-systems/inbox/internal/repository"
	"github.com/telhawk-systems/inbox/internal/service"
)

func newTestRouter(t *testing.T, logOut *bytes.Buffer) http.Handler {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	engine := merge.NewEngine(repo)
	logger := logging.NewWithWriter(logOut, slog.LevelInfo, "json")
	h := handlers.NewHandler(service.NewInboxService(repo, engine), ingest.NewDriver(engine),
		handlers.WithLogger(logger.Logger))
	return NewRouter(h, Options{AllowedOrigins: []string{"http://localhost:5173"}, Logger: logger.Logger})
}

func TestNewRouter_Routes(t *testing.T) {
	router := newTestRouter(t, &bytes.Buffer{})

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/conversations", "", http.StatusOK},
		{http.MethodGet, "/messages/wa1", "", http.StatusOK},
		{http.MethodPost, "/messages", `{"wa_id":"wa1","text":"hi"}`, http.StatusCreated},
		{http.MethodPost, "/webhook", `{"entry":[{"changes":[{"value":{}}]}]}`, http.StatusOK},
		{http.MethodGet, "/unknown", "", http.StatusNotFound},
		{http.MethodDelete, "/conversations", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
			assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestNewRouter_CORS(t *testing.T) {
	router := newTestRouter(t, &bytes.Buffer{})

	req := httptest.NewRequest(http.MethodOptions, "/messages", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	router := newTestRouter(t, &buf)

	req := httptest.NewRequest(http.MethodGet, "/messages/wa9", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	line := buf.String()
	assert.Contains(t, line, `"request_id":"req-123"`)
	assert.Contains(t, line, `"path":"/messages/wa9"`)
	assert.Contains(t, line, `"status":200`)
}
