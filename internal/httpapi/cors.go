package httpapi

import "net/http"

// withCORS permits browser-based subscribers (the WebSocket/SSE
// endpoints are meant to be consumed directly from a page) to reach
// the gateway from any origin. No third-party CORS middleware appears
// anywhere in the retrieved pack, so this stays on net/http (see
// DESIGN.md).
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
