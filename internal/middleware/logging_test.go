package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/cardshelf/internal/model"
)

// mockMetrics はRecordHTTPStatusの呼び出しを記録する。
type mockMetrics struct {
	statuses []int
}

func (m *mockMetrics) RecordCommand(string, error) {}
func (m *mockMetrics) RecordQueryLatency(string, time.Duration) {}
func (m *mockMetrics) RecordProvenanceStamp(bool) {}
func (m *mockMetrics) RecordMetadataFetch(bool) {}
func (m *mockMetrics) RecordHTTPStatus(code int) { m.statuses = append(m.statuses, code) }
func (m *mockMetrics) RecordOrphansDeleted(int64) {}

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	m := &mockMetrics{}

	handler := NewLoggingMiddleware(logger, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/collections/1", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["method"] != "GET" {
		t.Errorf("method = %q, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/api/collections/1" {
		t.Errorf("path = %q, want %q", entry["path"], "/api/collections/1")
	}
	if status, ok := entry["status"].(float64); !ok || status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected 'duration_ms' field in log entry")
	}
	if _, ok := entry["curator_id"]; ok {
		t.Error("匿名リクエストに curator_id が含まれている")
	}
	if len(m.statuses) != 1 || m.statuses[0] != http.StatusOK {
		t.Errorf("metrics statuses = %v", m.statuses)
	}
}

// TestLoggingMiddleware_IncludesCuratorID はキュレーターIDがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesCuratorID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/collections", nil)
	req = req.WithContext(ContextWithCuratorID(req.Context(), model.MustCuratorID(testDID)))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["curator_id"] != testDID {
		t.Errorf("curator_id = %q, want %q", entry["curator_id"], testDID)
	}
}

// TestLoggingMiddleware_LevelByStatus はステータスコードに応じてログレベルが変わることを検証する。
func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
		handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if entry := decodeLogEntry(t, &buf); entry["level"] != tt.want {
			t.Errorf("status %d: level = %v, want %s", tt.status, entry["level"], tt.want)
		}
	}
}

// TestRecoveryMiddleware はpanicを500の統一エラーレスポンスに変換することを検証する。
func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cards/1", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Code != "INTERNAL_ERROR" {
		t.Errorf("body = %+v, err = %v", body, err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("panic recovered")) {
		t.Errorf("panicがログに記録されていない: %s", buf.String())
	}
}

// TestSecurityHeadersMiddleware はセキュリティヘッダーと更新系のCache-Controlを検証する。
func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	get := httptest.NewRecorder()
	handler.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/cards/1", nil))
	if get.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("X-Content-Type-Options が設定されていない")
	}
	if get.Header().Get("Cache-Control") != "" {
		t.Errorf("GETに Cache-Control = %q", get.Header().Get("Cache-Control"))
	}

	post := httptest.NewRecorder()
	handler.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/api/collections", nil))
	if post.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("POSTの Cache-Control = %q, want no-store", post.Header().Get("Cache-Control"))
	}
}
