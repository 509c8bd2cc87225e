package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/lokutor-ai/transcribe-gateway/internal/model"
)

// chunkReader is optionally satisfied by Server.sink; concrete sinks
// that persist chunks durably (sink.SQLiteSink) can serve history
// reads through it without the Chunk Aggregator's Sink interface
// itself growing a read path it doesn't need.
type chunkReader interface {
	GetChunksByStream(ctx context.Context, streamID string, sinceMs, untilMs int64) ([]model.Chunk, error)
}

// handleHistory implements the read-side counterpart to the Chunk
// Aggregator's persisted output: GET
// /api/v1/transcribe/history/{stream_id}?since=&until= (ms epoch,
// both optional) returns the chunks a durable sink has stored for
// that stream. 501 if the configured sink doesn't support range
// reads (e.g. a Sink that only implements Put).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("stream_id")

	reader, ok := s.sink.(chunkReader)
	if !ok {
		writeError(w, http.StatusNotImplemented, "configured sink does not support history reads")
		return
	}

	since := parseMsParam(r, "since", 0)
	until := parseMsParam(r, "until", 1<<62)

	chunks, err := reader.GetChunksByStream(r.Context(), streamID, since, until)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stream_id": streamID,
		"chunks":    chunks,
	})
}

func parseMsParam(r *http.Request, name string, fallback int64) int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
