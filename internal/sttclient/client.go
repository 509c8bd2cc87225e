// Package sttclient implements the streaming WebSocket client to the
// external speech-to-text provider described in spec §4.3.
package sttclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/transcribe-gateway/internal/apperrors"
	"github.com/lokutor-ai/transcribe-gateway/internal/logging"
	"github.com/lokutor-ai/transcribe-gateway/internal/model"
)

const (
	pingInterval = 20 * time.Second
	pingTimeout  = 10 * time.Second
	closeTimeout = 10 * time.Second
)

// state is the STT Client's connection state machine from spec §4.3.
type state int

const (
	disconnected state = iota
	connecting
	openConfigSent
	openStreaming
	closing
	closed
)

// Token mirrors one element of a provider tokens frame. Confidence is
// a pointer, like Speaker/Language, so an absent field (default 1.0
// per spec) can be told apart from an explicit 0.0.
type Token struct {
	Text       string   `json:"text"`
	IsFinal    bool     `json:"is_final"`
	StartTime  float64  `json:"start_time"`
	EndTime    float64  `json:"end_time"`
	Confidence *float64 `json:"confidence,omitempty"`
	Speaker    *string  `json:"speaker,omitempty"`
	Language   *string  `json:"language,omitempty"`
}

// configFrame is the single JSON frame sent immediately after connect.
// Field names are the provider's wire contract and are preserved
// verbatim per spec §4.3.
type configFrame struct {
	APIKey                       string   `json:"api_key"`
	Model                        string   `json:"model"`
	SampleRate                   int      `json:"sample_rate"`
	NumChannels                  int      `json:"num_channels"`
	AudioFormat                  string   `json:"audio_format"`
	EnableEndpointDetection      bool     `json:"enable_endpoint_detection"`
	LanguageHints                []string `json:"language_hints,omitempty"`
	EnableLanguageIdentification bool     `json:"enable_language_identification,omitempty"`
	EnableSpeakerDiarization     bool     `json:"enable_speaker_diarization,omitempty"`
	Context                      *context_ `json:"context,omitempty"`
}

type context_ struct {
	Terms []string `json:"terms"`
}

// inboundFrame is decoded loosely so we can discriminate error /
// finished / tokens shapes from a single unmarshal.
type inboundFrame struct {
	ErrorCode    string  `json:"error_code"`
	ErrorMessage string  `json:"error_message"`
	Finished     bool    `json:"finished"`
	Tokens       []Token `json:"tokens"`
}

// Client is a stateful wrapper around one WebSocket session with the
// remote STT provider. A Client is single-session: call Connect once,
// stream audio, then SendEOS and Close; it is not reusable afterward.
//
// Grounded on pkg/providers/tts/lokutor.go's dial/getConn/write/read
// loop shape, generalized from synthesis to transcription and from a
// request/response pair to a persistent send+receive duplex.
type Client struct {
	url        string
	apiKey     string
	model      string
	sampleRate int

	logger logging.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state state
}

// New constructs a Client for a single provider session.
func New(url, apiKey, model string, sampleRate int, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Client{
		url:        url,
		apiKey:     apiKey,
		model:      model,
		sampleRate: sampleRate,
		logger:     logger,
		state:      disconnected,
	}
}

// Connect opens the WebSocket and sends the single configuration
// frame. It is a single attempt — on failure the caller should abort
// to the session's error state, per spec §4.4 step 2.
func (c *Client) Connect(ctx context.Context, opts model.StreamOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != disconnected {
		return fmt.Errorf("%w: cannot connect from state %d", apperrors.ErrAlreadyConnected, c.state)
	}
	c.state = connecting

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		c.state = disconnected
		return fmt.Errorf("stt dial failed: %w", err)
	}
	frame := configFrame{
		APIKey:                       c.apiKey,
		Model:                        c.model,
		SampleRate:                   c.sampleRate,
		NumChannels:                  1,
		AudioFormat:                  "pcm_s16le",
		EnableEndpointDetection:      opts.EnableEndpointDetection,
		LanguageHints:                opts.LanguageHints,
		EnableLanguageIdentification: opts.EnableLanguageID,
		EnableSpeakerDiarization:     opts.EnableSpeakerDiarization,
	}
	if len(opts.Vocabulary) > 0 {
		frame.Context = &context_{Terms: opts.Vocabulary}
	}

	if err := wsjson.Write(ctx, conn, frame); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "config send failed")
		c.state = disconnected
		return fmt.Errorf("stt config frame failed: %w", err)
	}

	c.conn = conn
	c.state = openConfigSent
	go c.keepalive(conn)
	return nil
}

// keepalive pings the connection every pingInterval, per spec §4.3's
// stated ping interval / timeout. A failed ping means the connection
// is already dead; Receive's next read will surface the disconnect,
// so keepalive just stops rather than duplicating that error path.
func (c *Client) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		live := c.conn == conn
		c.mu.Unlock()
		if !live {
			return
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err := conn.Ping(pingCtx)
		cancel()
		if err != nil {
			return
		}
	}
}

// SendAudio pushes one binary PCM frame. Valid once Connect has
// succeeded (the first call moves the state from config-sent to
// streaming) and until SendEOS or Close; calling outside that window
// fails with ErrSTTNotConnected.
func (c *Client) SendAudio(ctx context.Context, pcm []byte) error {
	c.mu.Lock()
	conn := c.conn
	switch c.state {
	case openConfigSent:
		c.state = openStreaming
	case openStreaming:
	default:
		c.mu.Unlock()
		return apperrors.ErrSTTNotConnected
	}
	c.mu.Unlock()

	if conn == nil {
		return apperrors.ErrSTTNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrSTTDisconnected, err)
	}
	return nil
}

// SendEOS sends the single empty-text end-of-stream sentinel required
// by spec §4.3 step 4. It does not close the socket — the provider is
// still expected to finish draining pending tokens and send a
// `finished` frame, which Receive is responsible for observing.
func (c *Client) SendEOS(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	if c.state == disconnected || c.state == closed || c.state == closing {
		c.mu.Unlock()
		return nil
	}
	c.state = closing
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte("")); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrSTTDisconnected, err)
	}
	return nil
}

// Close closes the underlying WebSocket. Idempotent; safe to call
// whether or not SendEOS was sent first.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.state == closed {
		c.state = closed
		c.conn = nil
		c.mu.Unlock()
		return nil
	}
	c.state = closed
	c.conn = nil
	c.mu.Unlock()

	return conn.Close(websocket.StatusNormalClosure, "")
}

// TokenEvent is yielded to the orchestrator for each non-empty tokens
// frame.
type TokenEvent struct {
	Tokens []Token
}

// Receive blocks reading JSON text frames until the provider signals
// `finished`, the socket closes, or a fatal `error_code` frame
// arrives. Each yielded TokenEvent is handed to onTokens in order;
// Receive returns nil on a clean `finished`/close, or a wrapped
// ErrSTTProviderError / ErrSTTDisconnected otherwise.
func (c *Client) Receive(ctx context.Context, onTokens func(TokenEvent) error) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return apperrors.ErrSTTNotConnected
	}

	for {
		var frame inboundFrame
		err := wsjson.Read(ctx, conn, &frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("%w: %v", apperrors.ErrSTTDisconnected, err)
		}

		if frame.ErrorCode != "" {
			return fmt.Errorf("%w: %s: %s", apperrors.ErrSTTProviderError, frame.ErrorCode, frame.ErrorMessage)
		}
		if frame.Finished {
			return nil
		}
		if len(frame.Tokens) == 0 {
			continue
		}
		if err := onTokens(TokenEvent{Tokens: frame.Tokens}); err != nil {
			return err
		}
	}
}
