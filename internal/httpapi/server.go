// Package httpapi implements the gateway's external interfaces (spec
// §6): the northbound admission API (start/stop/health/list) and the
// southbound real-time consumer endpoints (WebSocket, SSE).
//
// Transport is stdlib net/http with Go 1.22+ http.ServeMux
// method-and-wildcard patterns, grounded on
// MatchaCake-LiveSub/internal/web/server.go's mux.HandleFunc style. No
// third-party router is wired — no repo in the retrieved pack imports
// one, so ServeMux is the idiomatic choice here (see DESIGN.md).
package httpapi

import (
	"net/http"
	"time"

	"github.com/lokutor-ai/transcribe-gateway/internal/aggregator"
	"github.com/lokutor-ai/transcribe-gateway/internal/config"
	"github.com/lokutor-ai/transcribe-gateway/internal/extractor"
	"github.com/lokutor-ai/transcribe-gateway/internal/logging"
	"github.com/lokutor-ai/transcribe-gateway/internal/model"
	"github.com/lokutor-ai/transcribe-gateway/internal/pipeline"
	"github.com/lokutor-ai/transcribe-gateway/internal/session"
	"github.com/lokutor-ai/transcribe-gateway/internal/sttclient"
)

// Server wires the Session Manager, the gateway's configuration, and
// its collaborator factories into an http.Handler.
type Server struct {
	cfg     *config.Config
	manager *session.Manager
	sink    aggregator.Sink
	vocab   *config.VocabularyWatcher
	logger  logging.Logger

	startedAt  time.Time
	mux        *http.ServeMux
	httpClient *http.Client
}

// New builds a Server. Call Handler to obtain the http.Handler to
// serve.
func New(cfg *config.Config, manager *session.Manager, sink aggregator.Sink, vocab *config.VocabularyWatcher, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	s := &Server{
		cfg:        cfg,
		manager:    manager,
		sink:       sink,
		vocab:      vocab,
		logger:     logger,
		startedAt:  time.Now(),
		httpClient: &http.Client{},
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /", s.handleRoot)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/transcribe/list", s.handleList)
	s.mux.HandleFunc("POST /api/v1/transcribe/start", s.handleStart)
	s.mux.HandleFunc("POST /api/v1/transcribe/stop/{stream_id}", s.handleStop)
	s.mux.HandleFunc("GET /api/v1/transcribe/history/{stream_id}", s.handleHistory)
	s.mux.HandleFunc("GET /api/v1/transcribe/ws/{stream_id}", s.handleWebSocket)
	s.mux.HandleFunc("GET /api/v1/transcribe/sse/{stream_id}", s.handleSSE)
}

// Handler returns the CORS-wrapped http.Handler to serve.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": s.cfg.ServiceName,
		"version": s.cfg.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"active_streams": len(s.manager.List()),
		"version":        s.cfg.Version,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessionInfosToWire(s.manager.List()),
	})
}

// hlsURLFor builds the convention URL from spec §6:
// {base}/{stream_id}/{stream_id}.m3u8.
func (s *Server) hlsURLFor(streamID string) string {
	return s.cfg.BaseHLSURL + "/" + streamID + "/" + streamID + ".m3u8"
}

// newPipelineConfig constructs a fresh Extractor/STT/Aggregator triple
// for a newly admitted session and bundles them with its Bus into a
// pipeline.Config. Kept on Server (rather than in internal/session) so
// the Session Manager stays free of collaborator-construction
// concerns — it owns lifecycle and admission, not wiring.
func (s *Server) newPipelineConfig(streamID, sessionID, hlsURL string, opts model.StreamOptions) pipeline.Config {
	ext := extractor.New(hlsURL, s.cfg.STTSampleRate, s.cfg.AudioChunkSize, "ffmpeg", s.logger)
	stt := sttclient.New(s.cfg.STTEndpointURL, s.cfg.STTAPIKey, s.cfg.STTModel, s.cfg.STTSampleRate, s.logger)
	aggr := aggregator.New(streamID, sessionID, time.Duration(s.cfg.ChunkDuration)*time.Second, s.sink, s.logger)
	bus := s.manager.Bus(streamID)

	return pipeline.Config{
		StreamID:   streamID,
		SessionID:  sessionID,
		Options:    opts,
		Extractor:  ext,
		STT:        stt,
		Bus:        bus,
		Aggregator: aggr,
		Logger:     s.logger,
		OnStatus: func(status model.Status, lastError string) {
			s.manager.SetStatus(streamID, status, lastError)
		},
	}
}
