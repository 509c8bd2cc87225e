package httpapi

import (
	"context"
	"net/http"
	"time"
)

const hlsProbeTimeout = 10 * time.Second

// probeHLS reports whether url is reachable with a single HEAD attempt,
// falling back to a single GET if the origin rejects HEAD (a common
// HLS-origin behavior). Per OPEN QUESTION DECISIONS, the probe is not
// retried — a transient failure here simply fails admission with 404,
// and the caller may retry start() itself.
func probeHLS(ctx context.Context, client *http.Client, url string) bool {
	if ok := probeOnce(ctx, client, http.MethodHead, url); ok {
		return true
	}
	return probeOnce(ctx, client, http.MethodGet, url)
}

func probeOnce(ctx context.Context, client *http.Client, method, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, hlsProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
