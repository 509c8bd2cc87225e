package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/transcribe-gateway/internal/apperrors"
)

const sseHeartbeatInterval = 5 * time.Second

// handleWebSocket implements spec §6's southbound WebSocket endpoint:
// each Segment produced for the stream is sent as a JSON text frame,
// and when the session ends a final {"event":"end"} frame precedes the
// close.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("stream_id")
	b := s.manager.Bus(streamID)
	if b == nil {
		writeError(w, http.StatusNotFound, apperrors.ErrSessionNotFound.Error())
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	sub := b.Register()
	defer b.Unregister(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case segment, ok := <-sub.Segments():
			if !ok {
				_ = wsjson.Write(ctx, conn, map[string]string{"event": "end", "stream_id": streamID})
				conn.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
			if err := wsjson.Write(ctx, conn, segment); err != nil {
				return
			}
		}
	}
}

// handleSSE implements spec §6's southbound server-sent-event endpoint:
// `connected` on attach, `transcription` per Segment, `heartbeat` after
// 5 s of silence, `end` when the session disappears, `error` on
// internal failure. Grounded on the flusher-based event loop from
// other_examples/.../sse.go, generalized from a single consumer
// subscription keyed by conversation id to the gateway's Fan-out Bus.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("stream_id")
	b := s.manager.Bus(streamID)
	if b == nil {
		writeError(w, http.StatusNotFound, apperrors.ErrSessionNotFound.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := b.Register()
	defer b.Unregister(sub)

	writeSSEEvent(w, "connected", map[string]string{"stream_id": streamID})
	flusher.Flush()

	ctx := r.Context()
	idle := time.NewTimer(sseHeartbeatInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case segment, ok := <-sub.Segments():
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(sseHeartbeatInterval)
			if !ok {
				writeSSEEvent(w, "end", map[string]string{"stream_id": streamID})
				flusher.Flush()
				return
			}
			writeSSEEvent(w, "transcription", segment)
			flusher.Flush()
		case <-idle.C:
			if _, err := fmt.Fprint(w, "event: heartbeat\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
			idle.Reset(sseHeartbeatInterval)
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: {\"message\":\"encode failure\"}\n\n")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
