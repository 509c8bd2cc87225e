package sink

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lokutor-ai/transcribe-gateway/internal/logging"
	"github.com/lokutor-ai/transcribe-gateway/internal/model"
)

// SQLiteSink is a concrete aggregator.Sink backed by a local SQLite
// database, grounded on MatchaCake-LiveSub/internal/auth/store.go's
// database/sql + mattn/go-sqlite3 usage. Its schema mirrors the KV
// sink record shape from spec §6: partition key stream_id, sort key
// chunk_timestamp, plus chunk_id/session_id/start_time/end_time/
// text/words/is_final/created_at.
type SQLiteSink struct {
	db     *sql.DB
	logger logging.Logger
}

// NewSQLiteSink opens (creating if absent) a SQLite database at path
// and ensures the chunks table exists. SQLite permits only one writer
// at a time, so the pool is limited to a single connection — the same
// discipline the teacher's auth store uses to avoid SQLITE_BUSY under
// concurrent access.
func NewSQLiteSink(path string, logger logging.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite sink: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sink: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			stream_id       TEXT NOT NULL,
			chunk_timestamp INTEGER NOT NULL,
			chunk_id        TEXT NOT NULL,
			session_id      TEXT NOT NULL,
			start_time      REAL NOT NULL,
			end_time        REAL NOT NULL,
			text            TEXT NOT NULL,
			words           TEXT NOT NULL,
			is_final        INTEGER NOT NULL,
			created_at      TEXT NOT NULL,
			PRIMARY KEY (stream_id, chunk_timestamp)
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_stream_time
			ON chunks (stream_id, start_time);
	`)
	return err
}

// Put persists chunk, satisfying aggregator.Sink.
func (s *SQLiteSink) Put(ctx context.Context, streamID, sessionID string, chunk model.Chunk) error {
	wj, err := wordsJSON(chunk.Words)
	if err != nil {
		return fmt.Errorf("encode words: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(stream_id, chunk_timestamp, chunk_id, session_id, start_time, end_time, text, words, is_final, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, streamID, chunk.ChunkTimestamp, chunk.ChunkID, sessionID, chunk.StartTime, chunk.EndTime, chunk.Text, wj, chunk.IsFinal, chunk.CreatedAt.Format("2006-01-02T15:04:05.000Z"))
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// GetChunksByStream returns persisted chunks for a stream ordered by
// chunk_timestamp, optionally bounded to [sinceMs, untilMs]. Supplements
// spec.md: the original get_chunks_by_stream range-query capability
// (original_source/src/services/dynamodb_client.py) is not named in
// spec.md's sink contract but is a natural read-side counterpart to
// Put, exposed through GET /api/v1/transcribe/history/{stream_id}
// (internal/httpapi/handlers_history.go) when the configured sink
// supports it.
func (s *SQLiteSink) GetChunksByStream(ctx context.Context, streamID string, sinceMs, untilMs int64) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_timestamp, chunk_id, session_id, start_time, end_time, text, words, is_final, created_at
		FROM chunks
		WHERE stream_id = ? AND chunk_timestamp >= ? AND chunk_timestamp <= ?
		ORDER BY chunk_timestamp ASC
	`, streamID, sinceMs, untilMs)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var wj, createdAt string
		if err := rows.Scan(&c.ChunkTimestamp, &c.ChunkID, &c.SessionID, &c.StartTime, &c.EndTime, &c.Text, &wj, &c.IsFinal, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.StreamID = streamID
		if err := decodeWords(wj, &c.Words); err != nil {
			return nil, fmt.Errorf("decode words: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
