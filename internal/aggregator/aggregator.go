// Package aggregator implements the Chunk Aggregator: batches final
// (and, as a fallback, partial) segments into fixed-duration windows
// and persists each window as a Chunk via a pluggable sink.
//
// A flush fires on its ticker even while a non-final burst is still
// outstanding; the final text that later replaces those partials is
// added to the next window, so a window is never held open or split
// to wait for finalization.
//
// Grounded on original_source/src/services/chunk_buffer.py's
// window/flush state machine, translated into the teacher's
// mutex-guarded-state-plus-ticker-goroutine idiom.
package aggregator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/transcribe-gateway/internal/logging"
	"github.com/lokutor-ai/transcribe-gateway/internal/model"
)

// Sink persists one Chunk. Failures are logged by the Aggregator and
// never propagate into its flush loop (taxonomy class 5 in spec §7).
type Sink interface {
	Put(ctx context.Context, streamID, sessionID string, chunk model.Chunk) error
}

type window struct {
	open        bool
	streamStart float64
	streamEnd   float64
	text        strings.Builder
	words       []model.Word
	lastText    string
	lastWords   []model.Word
}

// Aggregator owns one stream's chunk window and periodic flush loop.
type Aggregator struct {
	streamID  string
	sessionID string
	duration  time.Duration
	sink      Sink
	logger    logging.Logger

	mu sync.Mutex
	w  window

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Aggregator for one session. Start must be called
// to begin the periodic flush.
func New(streamID, sessionID string, duration time.Duration, sink Sink, logger logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Aggregator{
		streamID:  streamID,
		sessionID: sessionID,
		duration:  duration,
		sink:      sink,
		logger:    logger,
	}
}

// Start launches the periodic flush goroutine, ticking every
// configured duration regardless of segment traffic.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.loop(ctx)
}

func (a *Aggregator) loop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.duration)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// AddSegment folds one Segment into the open window, per spec §4.6.
// Mutually exclusive with flush via the aggregator's mutex.
func (a *Aggregator) AddSegment(segment model.Segment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.w.open {
		a.w.open = true
		a.w.streamStart = segment.StreamTime
		a.w.streamEnd = segment.StreamTime
		a.w.text.Reset()
		a.w.words = nil
	}

	a.w.streamEnd = segment.StreamTime

	trimmed := strings.TrimSpace(segment.Text)
	if segment.IsFinal {
		if a.w.text.Len() > 0 {
			a.w.text.WriteByte(' ')
		}
		a.w.text.WriteString(trimmed)
		a.w.words = append(a.w.words, segment.Words...)
	} else {
		// Partial-only windows fall back to the latest partial's text
		// and words at flush time; track it here so the fallback
		// doesn't need to remember the segment itself.
		a.w.lastText = trimmed
		a.w.lastWords = segment.Words
	}
}

// flush implements the periodic-flush algorithm from spec §4.6: a
// window with no segments yields nothing; an all-partial window falls
// back to the last partial's text/words; otherwise the accumulated
// final text is used. The emitted Chunk is always is_final=true.
func (a *Aggregator) flush(ctx context.Context) {
	a.mu.Lock()
	if !a.w.open {
		a.mu.Unlock()
		return
	}

	text := a.w.text.String()
	words := a.w.words
	if text == "" {
		text = a.w.lastText
		words = a.w.lastWords
	}
	start := a.w.streamStart
	end := a.w.streamEnd
	a.w = window{}
	a.mu.Unlock()

	if text == "" {
		// No segments carried any text at all (e.g. only empty
		// partials arrived) — nothing to persist.
		return
	}

	chunk := model.Chunk{
		StreamID:       a.streamID,
		SessionID:      a.sessionID,
		ChunkID:        uuid.NewString(),
		ChunkTimestamp: time.Now().UnixMilli(),
		StartTime:      start,
		EndTime:        end,
		Text:           text,
		Words:          words,
		IsFinal:        true,
		CreatedAt:      time.Now().UTC(),
	}

	if a.sink == nil {
		return
	}
	if err := a.sink.Put(ctx, a.streamID, a.sessionID, chunk); err != nil {
		a.logger.Error("chunk sink write failed", "stream_id", a.streamID, "error", fmt.Sprint(err))
	}
}

// Stop cancels the periodic flusher, waits for it to quiesce, then
// performs one final flush of any open window.
func (a *Aggregator) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	a.flush(ctx)
}
