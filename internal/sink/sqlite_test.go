package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lokutor-ai/transcribe-gateway/internal/model"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunks.db")
	s, err := NewSQLiteSink(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteSink_PutThenGetRoundTrips(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	chunk := model.Chunk{
		StreamID:       "stream-1",
		SessionID:      "sess-1",
		ChunkID:        "chunk-1",
		ChunkTimestamp: 1000,
		StartTime:      0.0,
		EndTime:        5.0,
		Text:           "hello world",
		Words:          []model.Word{{Text: "hello"}, {Text: "world"}},
		IsFinal:        true,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.Put(ctx, chunk.StreamID, chunk.SessionID, chunk); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.GetChunksByStream(ctx, "stream-1", 0, 1<<62)
	if err != nil {
		t.Fatalf("GetChunksByStream: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1", len(got))
	}
	if got[0].ChunkID != "chunk-1" || got[0].Text != "hello world" {
		t.Errorf("chunk = %+v", got[0])
	}
	if len(got[0].Words) != 2 {
		t.Errorf("words = %+v, want 2 entries", got[0].Words)
	}
}

func TestSQLiteSink_GetChunksByStreamFiltersByWindow(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	for _, ts := range []int64{1000, 2000, 3000} {
		chunk := model.Chunk{
			StreamID:       "stream-1",
			SessionID:      "sess-1",
			ChunkID:        "chunk",
			ChunkTimestamp: ts,
			Text:           "x",
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.Put(ctx, chunk.StreamID, chunk.SessionID, chunk); err != nil {
			t.Fatalf("Put(%d): %v", ts, err)
		}
	}

	got, err := s.GetChunksByStream(ctx, "stream-1", 1500, 2500)
	if err != nil {
		t.Fatalf("GetChunksByStream: %v", err)
	}
	if len(got) != 1 || got[0].ChunkTimestamp != 2000 {
		t.Errorf("got %+v, want exactly the 2000 chunk", got)
	}
}

func TestSQLiteSink_GetChunksByStreamEmptyForUnknownStream(t *testing.T) {
	s := newTestSink(t)
	got, err := s.GetChunksByStream(context.Background(), "no-such-stream", 0, 1<<62)
	if err != nil {
		t.Fatalf("GetChunksByStream: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d chunks, want 0", len(got))
	}
}
