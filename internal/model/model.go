// Package model defines the data types that flow between gateway
// components: sessions, segments, words, stream options and the
// persisted chunk record.
package model

import "time"

// Status is the lifecycle state of a Session. Transitions are
// monotonic forward; see Session.CanAdvanceTo.
type Status string

const (
	StatusPending  Status = "pending"
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// statusRank gives the monotonic ordering used to reject backward
// transitions; unlisted statuses get rank 0, the same as pending.
var statusRank = map[Status]int{
	StatusPending:  0,
	StatusStarting: 1,
	StatusActive:   2,
	StatusStopping: 3,
	StatusStopped:  4,
	StatusError:    4, // error is terminal, same rank as stopped
}

// StreamOptions is snapshotted at session creation and never mutated
// afterward.
type StreamOptions struct {
	LanguageHints             []string
	EnableLanguageID          bool
	EnableSpeakerDiarization  bool
	EnableEndpointDetection   bool
	Vocabulary                []string
}

// Session is the Session Manager's record of one stream's
// transcription pipeline.
type Session struct {
	SessionID string
	StreamID  string
	Status    Status
	StartedAt time.Time
	StoppedAt time.Time
	LastError string
	HLSURL    string
	Options   StreamOptions
}

// CanAdvanceTo reports whether moving from s's current status to next
// is forward progress or a move within the same rank (a repeat of the
// current status, or stopped to error and back). Backward transitions
// are rejected by the caller.
func (s *Session) CanAdvanceTo(next Status) bool {
	return statusRank[next] >= statusRank[s.Status]
}

// Word is one STT output token within a Segment, always carrying
// times relative to the pipeline's start.
type Word struct {
	Text       string  `json:"text"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
	Speaker    *string `json:"speaker"`
	Language   *string `json:"language"`
}

// Segment is a normalized, immutable batch of tokens emitted by the
// Pipeline Orchestrator for real-time delivery.
type Segment struct {
	UniqueID   string    `json:"unique_id"` // stream_id
	SegmentID  string    `json:"segment_id"`
	WallTime   time.Time `json:"wall_timestamp"`
	StreamTime float64   `json:"stream_time"`
	Text       string    `json:"text"`
	IsFinal    bool      `json:"is_final"`
	Words      []Word    `json:"words"`
}

// Chunk is a fixed-window aggregate of segments, the unit the Chunk
// Aggregator persists via the KV sink.
type Chunk struct {
	StreamID       string    `json:"stream_id"`
	SessionID      string    `json:"session_id"`
	ChunkID        string    `json:"chunk_id"`
	ChunkTimestamp int64     `json:"chunk_timestamp"` // ms epoch
	StartTime      float64   `json:"start_time"`
	EndTime        float64   `json:"end_time"`
	Text           string    `json:"text"`
	Words          []Word    `json:"words"`
	IsFinal        bool      `json:"is_final"`
	CreatedAt      time.Time `json:"created_at"`
}

// SessionInfo is the list() projection returned by the admission API,
// adding derived fields (uptime, subscriber count) the Session struct
// itself does not carry.
type SessionInfo struct {
	SessionID        string
	UniqueID         string
	Status           Status
	StartedAt        time.Time
	UptimeSeconds    float64
	ConnectedClients int
}
