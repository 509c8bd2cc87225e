// Package pipeline implements the per-session Pipeline Orchestrator
// (spec §4.4): couples one Audio Extractor to one STT Client, forms
// normalized Segments, and drives the Fan-out Bus and Chunk
// Aggregator.
//
// Grounded on pkg/orchestrator/orchestrator.go (one coordinator owning
// its providers) and pkg/orchestrator/managed_stream.go (per-session
// lifecycle), generalized from a turn-taking voice assistant to a
// one-way transcription relay. A Pipeline holds one context and its
// cancel func and an idempotent Stop via sync.Once; it has no event
// channel and no generation counters. Pump/receive coordination uses
// golang.org/x/sync/errgroup.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/transcribe-gateway/internal/aggregator"
	"github.com/lokutor-ai/transcribe-gateway/internal/bus"
	"github.com/lokutor-ai/transcribe-gateway/internal/extractor"
	"github.com/lokutor-ai/transcribe-gateway/internal/logging"
	"github.com/lokutor-ai/transcribe-gateway/internal/model"
	"github.com/lokutor-ai/transcribe-gateway/internal/sttclient"
)

// StatusCallback is invoked whenever the pipeline's observable status
// changes, letting the Session Manager keep Session.Status in sync
// without the pipeline depending on the manager directly.
type StatusCallback func(status model.Status, lastError string)

// Pipeline is the per-session coordinator described in spec §4.4.
type Pipeline struct {
	streamID  string
	sessionID string
	opts      model.StreamOptions

	extractor *extractor.Extractor
	stt       *sttclient.Client
	bus       *bus.Bus
	aggr      *aggregator.Aggregator
	logger    logging.Logger
	onStatus  StatusCallback

	ctx    context.Context
	cancel context.CancelFunc

	startWall time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// Config bundles everything a Pipeline needs to construct its
// collaborators.
type Config struct {
	StreamID  string
	SessionID string
	Options   model.StreamOptions

	Extractor *extractor.Extractor
	STT       *sttclient.Client
	Bus       *bus.Bus
	Aggregator *aggregator.Aggregator

	Logger   logging.Logger
	OnStatus StatusCallback
}

// New constructs a Pipeline. Run must be called to start it.
func New(parent context.Context, cfg Config) *Pipeline {
	ctx, cancel := context.WithCancel(parent)
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Pipeline{
		streamID:  cfg.StreamID,
		sessionID: cfg.SessionID,
		opts:      cfg.Options,
		extractor: cfg.Extractor,
		stt:       cfg.STT,
		bus:       cfg.Bus,
		aggr:      cfg.Aggregator,
		logger:    logger,
		onStatus:  cfg.OnStatus,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (p *Pipeline) setStatus(status model.Status, lastError string) {
	if p.onStatus != nil {
		p.onStatus(status, lastError)
	}
}

// Run executes the full orchestrator algorithm from spec §4.4 and
// blocks until the pipeline reaches a terminal state. Callers
// typically invoke it in its own goroutine.
func (p *Pipeline) Run() {
	defer close(p.done)

	p.setStatus(model.StatusStarting, "")

	if err := p.stt.Connect(p.ctx, p.opts); err != nil {
		p.logger.Error("stt connect failed", "stream_id", p.streamID, "error", err)
		p.setStatus(model.StatusError, err.Error())
		return
	}

	p.setStatus(model.StatusActive, "")
	p.startWall = time.Now()
	p.aggr.Start(p.ctx)

	pcmChan := p.extractor.Run(p.ctx)

	g, gctx := errgroup.WithContext(p.ctx)

	g.Go(func() error {
		return p.pump(gctx, pcmChan)
	})
	g.Go(func() error {
		return p.receive(gctx)
	})

	err := g.Wait()
	cancelled := p.ctx.Err() != nil

	p.cancel()
	_ = p.stt.Close(context.Background())
	p.aggr.Stop(context.Background())

	if err != nil && !cancelled {
		p.logger.Error("pipeline ended with error", "stream_id", p.streamID, "error", err)
		p.setStatus(model.StatusError, err.Error())
		return
	}
	p.setStatus(model.StatusStopped, "")
}

// pump drives extractor output into the STT client until the
// extractor's sequence ends, then sends the end-of-stream sentinel.
func (p *Pipeline) pump(ctx context.Context, pcmChan <-chan []byte) error {
	for {
		select {
		case chunk, ok := <-pcmChan:
			if !ok {
				return p.stt.SendEOS(ctx)
			}
			if err := p.stt.SendAudio(ctx, chunk); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// receive iterates the client's token events, forming at most one
// Segment per event and handing it to the bus and aggregator, until
// the event stream ends or ctx is cancelled. When the token stream
// ends on its own — finished or a clean close — it cancels the
// pipeline so the pump side stops too, per spec §4.4 step 6. On an
// error the errgroup stops the pump instead, and the pipeline context
// is left alone so Run reports the error status.
func (p *Pipeline) receive(ctx context.Context) error {
	err := p.stt.Receive(ctx, func(ev sttclient.TokenEvent) error {
		segment, ok := p.formSegment(ev)
		if !ok {
			return nil
		}
		p.bus.Broadcast(segment)
		p.aggr.AddSegment(segment)
		return nil
	})
	if err == nil && ctx.Err() == nil {
		p.cancel()
	}
	return err
}

// formSegment implements the Segment formation algorithm from spec
// §4.4.
func (p *Pipeline) formSegment(ev sttclient.TokenEvent) (model.Segment, bool) {
	var text string
	isFinal := false
	words := make([]model.Word, 0, len(ev.Tokens))

	for _, tok := range ev.Tokens {
		if tok.Text == "" {
			continue
		}
		text += tok.Text
		if tok.IsFinal {
			isFinal = true
		}
		words = append(words, model.Word{
			Text:       tok.Text,
			StartTime:  tok.StartTime,
			EndTime:    tok.EndTime,
			Confidence: confidenceOrDefault(tok.Confidence),
			Speaker:    tok.Speaker,
			Language:   tok.Language,
		})
	}

	if len(words) == 0 {
		return model.Segment{}, false
	}

	return model.Segment{
		UniqueID:   p.streamID,
		SegmentID:  uuid.NewString(),
		WallTime:   time.Now(),
		StreamTime: time.Since(p.startWall).Seconds(),
		Text:       text,
		IsFinal:    isFinal,
		Words:      words,
	}, true
}

// confidenceOrDefault implements the "missing fields default to 1.0"
// rule from spec §4.4: only an absent confidence field substitutes,
// never an explicit 0.0.
func confidenceOrDefault(c *float64) float64 {
	if c == nil {
		return 1.0
	}
	return *c
}

// Stop cancels the pipeline and waits for Run to observe quiescence.
// Safe to call more than once. Run must already be running in its own
// goroutine, as is always the case for pipelines owned by the Session
// Manager.
func (p *Pipeline) Stop() {
	p.closeOnce.Do(func() {
		p.cancel()
	})
	<-p.done
}

// Err reports the pipeline's context error, useful for callers that
// want to distinguish "stopped because cancelled" from "still running"
// without blocking on Stop.
func (p *Pipeline) Err() error {
	return p.ctx.Err()
}
