package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lokutor-ai/transcribe-gateway/internal/apperrors"
	"github.com/lokutor-ai/transcribe-gateway/internal/model"
	"github.com/lokutor-ai/transcribe-gateway/internal/pipeline"
	"github.com/lokutor-ai/transcribe-gateway/internal/session"
)

// startRequest is the JSON body accepted by POST /api/v1/transcribe/start.
type startRequest struct {
	StreamID                     string   `json:"stream_id"`
	LanguageHints                []string `json:"language_hints"`
	EnableLanguageIdentification bool     `json:"enable_language_identification"`
	EnableSpeakerDiarization     bool     `json:"enable_speaker_diarization"`
	EnableEndpointDetection      bool     `json:"enable_endpoint_detection"`
}

// handleStart implements spec §6's start(stream_id, options) operation:
// validate → probe HLS reachability → admit → launch pipeline.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Admission ordering per spec §6/§8: id validity, then HLS
	// reachability, then the manager's existence/capacity check.
	// Checked here too (not just inside Create) so an invalid id never
	// reaches the HLS probe and surfaces 400 rather than 404.
	if !session.ValidStreamID(req.StreamID) {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalidStreamID.Error())
		return
	}

	hlsURL := s.hlsURLFor(req.StreamID)
	opts := model.StreamOptions{
		LanguageHints:            req.LanguageHints,
		EnableLanguageID:         req.EnableLanguageIdentification,
		EnableSpeakerDiarization: req.EnableSpeakerDiarization,
		EnableEndpointDetection:  req.EnableEndpointDetection,
		Vocabulary:               s.vocab.Terms(),
	}

	if !probeHLS(r.Context(), s.httpClient, hlsURL) {
		writeError(w, http.StatusNotFound, apperrors.ErrUpstreamNotFound.Error())
		return
	}

	sess, err := s.manager.Create(req.StreamID, hlsURL, opts)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidStreamID):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, apperrors.ErrAlreadyExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, apperrors.ErrAtCapacity):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	// The pipeline's lifetime is independent of this admission request;
	// it is torn down by Session Manager.Remove (stop() or process
	// shutdown), never by this handler returning.
	cfg := s.newPipelineConfig(req.StreamID, sess.SessionID, hlsURL, opts)
	p := pipeline.New(context.Background(), cfg)
	s.manager.AttachPipeline(req.StreamID, p)
	go p.Run()

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id":     sess.SessionID,
		"status":         "started",
		"subscriber_url": "/api/v1/transcribe/ws/" + req.StreamID,
	})
}

// handleStop implements spec §6's stop(stream_id) operation.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("stream_id")
	if s.manager.Get(streamID) == nil {
		writeError(w, http.StatusNotFound, apperrors.ErrSessionNotFound.Error())
		return
	}
	s.manager.Remove(streamID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "stopped",
		"stream_id": streamID,
	})
}
