package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/lokutor-ai/transcribe-gateway/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sessionInfoWire is the JSON-facing projection of model.SessionInfo,
// spelled with the snake_case field names spec §6 names explicitly.
type sessionInfoWire struct {
	SessionID        string  `json:"session_id"`
	UniqueID         string  `json:"unique_id"`
	Status           string  `json:"status"`
	StartedAt        string  `json:"started_at"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	ConnectedClients int     `json:"connected_clients"`
}

func sessionInfosToWire(infos []model.SessionInfo) []sessionInfoWire {
	out := make([]sessionInfoWire, 0, len(infos))
	for _, si := range infos {
		out = append(out, sessionInfoWire{
			SessionID:        si.SessionID,
			UniqueID:         si.UniqueID,
			Status:           string(si.Status),
			StartedAt:        si.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
			UptimeSeconds:    si.UptimeSeconds,
			ConnectedClients: si.ConnectedClients,
		})
	}
	return out
}
