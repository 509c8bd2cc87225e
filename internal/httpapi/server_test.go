package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/lokutor-ai/transcribe-gateway/internal/config"
	"github.com/lokutor-ai/transcribe-gateway/internal/model"
	"github.com/lokutor-ai/transcribe-gateway/internal/session"
	"github.com/lokutor-ai/transcribe-gateway/internal/sink"
)

type fakeSink struct{}

func (fakeSink) Put(ctx context.Context, streamID, sessionID string, chunk model.Chunk) error {
	return nil
}

// newTestServer wires a Server against a reachable fake HLS origin (so
// admission's probe step always succeeds) and an unreachable STT
// endpoint; pipelines spawned by handleStart fail fast in the
// background, which these tests never wait on — only the admission
// HTTP response is under test here.
func newTestServer(t *testing.T, capacity int) (*Server, *httptest.Server) {
	t.Helper()
	hlsOrigin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hlsOrigin.Close)

	cfg := &config.Config{
		ServiceName:    "transcribe-gateway",
		Version:        "test",
		BaseHLSURL:     hlsOrigin.URL,
		SessionCap:     capacity,
		STTEndpointURL: "ws://127.0.0.1:1/stt",
		STTAPIKey:      "key",
		STTSampleRate:  16000,
		STTModel:       "model-x",
		AudioChunkSize: 4096,
		ChunkDuration:  10,
	}
	vocab, err := config.NewVocabularyWatcher("")
	if err != nil {
		t.Fatalf("NewVocabularyWatcher: %v", err)
	}
	manager := session.New(capacity)
	srv := New(cfg, manager, fakeSink{}, vocab, nil)
	return srv, hlsOrigin
}

func startStream(t *testing.T, handler http.Handler, streamID string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"stream_id": streamID})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_StartStartConflict(t *testing.T) {
	srv, _ := newTestServer(t, 10)
	handler := srv.Handler()

	first := startStream(t, handler, "stream-a")
	if first.Code != http.StatusOK {
		t.Fatalf("first start = %d, body %s", first.Code, first.Body.String())
	}

	second := startStream(t, handler, "stream-a")
	if second.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", second.Code)
	}
}

func TestServer_StopStopIdempotence(t *testing.T) {
	srv, _ := newTestServer(t, 10)
	handler := srv.Handler()

	if rec := startStream(t, handler, "stream-b"); rec.Code != http.StatusOK {
		t.Fatalf("start = %d, body %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/stop/stream-b", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first stop = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/stop/stream-b", nil)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusNotFound {
		t.Errorf("second stop = %d, want 404", rec2.Code)
	}
}

func TestServer_UniqueIDRegexBoundary(t *testing.T) {
	srv, _ := newTestServer(t, 10)
	handler := srv.Handler()

	rec := startStream(t, handler, "bad id with spaces")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("start with invalid stream_id = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestServer_CapacityBoundary(t *testing.T) {
	srv, _ := newTestServer(t, 1)
	handler := srv.Handler()

	if rec := startStream(t, handler, "only-slot"); rec.Code != http.StatusOK {
		t.Fatalf("first start = %d, body %s", rec.Code, rec.Body.String())
	}

	over := startStream(t, handler, "no-room")
	if over.Code != http.StatusServiceUnavailable {
		t.Errorf("start over capacity = %d, want 503, body %s", over.Code, over.Body.String())
	}

	stopReq := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/stop/only-slot", nil)
	stopRec := httptest.NewRecorder()
	handler.ServeHTTP(stopRec, stopReq)
	if stopRec.Code != http.StatusOK {
		t.Fatalf("stop = %d, body %s", stopRec.Code, stopRec.Body.String())
	}

	retry := startStream(t, handler, "no-room")
	if retry.Code != http.StatusOK {
		t.Errorf("start after freeing a slot = %d, want 200, body %s", retry.Code, retry.Body.String())
	}
}

func TestServer_UnreachableHLSReturns404(t *testing.T) {
	srv, hlsOrigin := newTestServer(t, 10)
	hlsOrigin.Close() // now unreachable
	handler := srv.Handler()

	rec := startStream(t, handler, "stream-z")
	if rec.Code != http.StatusNotFound {
		t.Errorf("start against unreachable origin = %d, want 404, body %s", rec.Code, rec.Body.String())
	}
}

func TestServer_HistoryNotImplementedForPlainSink(t *testing.T) {
	srv, _ := newTestServer(t, 10)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transcribe/history/stream-x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("history against a Put-only sink = %d, want 501", rec.Code)
	}
}

func TestServer_HistoryReturnsPersistedChunks(t *testing.T) {
	hlsOrigin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hlsOrigin.Close)

	dbPath := filepath.Join(t.TempDir(), "chunks.db")
	sqliteSink, err := sink.NewSQLiteSink(dbPath, nil)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	t.Cleanup(func() { sqliteSink.Close() })

	if err := sqliteSink.Put(context.Background(), "stream-y", "sess-y", model.Chunk{
		StreamID:       "stream-y",
		SessionID:      "sess-y",
		ChunkID:        "chunk-1",
		ChunkTimestamp: 1234,
		Text:           "hello",
		IsFinal:        true,
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	cfg := &config.Config{
		ServiceName: "transcribe-gateway",
		Version:     "test",
		BaseHLSURL:  hlsOrigin.URL,
		SessionCap:  10,
	}
	vocab, err := config.NewVocabularyWatcher("")
	if err != nil {
		t.Fatalf("NewVocabularyWatcher: %v", err)
	}
	manager := session.New(10)
	srv := New(cfg, manager, sqliteSink, vocab, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transcribe/history/stream-y", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d, body %s", rec.Code, rec.Body.String())
	}

	var got struct {
		Chunks []model.Chunk `json:"chunks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode history response: %v", err)
	}
	if len(got.Chunks) != 1 || got.Chunks[0].ChunkID != "chunk-1" {
		t.Errorf("chunks = %+v", got.Chunks)
	}
}

func TestServer_HealthReportsActiveStreams(t *testing.T) {
	srv, _ := newTestServer(t, 10)
	handler := srv.Handler()

	startStream(t, handler, "stream-h")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if got["active_streams"].(float64) != 1 {
		t.Errorf("active_streams = %v, want 1", got["active_streams"])
	}
}
