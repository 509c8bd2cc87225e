// Package apperrors collects the sentinel errors shared across the
// gateway so callers can classify failures with errors.Is instead of
// string matching.
package apperrors

import "errors"

var (
	// Admission errors (taxonomy class 1 — surfaced to the caller, no
	// session is created).
	ErrInvalidStreamID  = errors.New("stream_id does not match the allowed pattern")
	ErrAlreadyExists    = errors.New("a session for this stream_id already exists")
	ErrAtCapacity       = errors.New("session capacity reached")
	ErrUpstreamNotFound = errors.New("hls source is not reachable")

	// Lookup errors.
	ErrSessionNotFound    = errors.New("no session for this stream_id")
	ErrSubscriberNotFound = errors.New("no subscriber with this handle")

	// Upstream transient / permanent errors (taxonomy classes 2-3).
	ErrExtractorStalled  = errors.New("audio extractor read timed out")
	ErrDecoderExited     = errors.New("decoder child process exited")
	ErrSTTNotConnected   = errors.New("stt client is not in the streaming state")
	ErrSTTDisconnected   = errors.New("stt client connection closed unexpectedly")
	ErrSTTProviderError  = errors.New("stt provider reported an error")
	ErrAlreadyConnected  = errors.New("stt client is already connected")

	// Sink errors (taxonomy class 5).
	ErrSinkWriteFailed = errors.New("kv sink write failed")
)
