// Package sink implements the Chunk Aggregator's pluggable KV sink
// (spec §4.6, §6): one concrete, runnable backend for the narrow Put
// interface, which is declared as aggregator.Sink.
package sink

import (
	"encoding/json"

	"github.com/lokutor-ai/transcribe-gateway/internal/model"
)

// wordsJSON is the sink-facing encoding of a word list — spec §6
// leaves word serialization to the sink, so each backend is free to
// choose; the SQLite backend below stores it as a JSON array column.
func wordsJSON(words []model.Word) (string, error) {
	b, err := json.Marshal(words)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeWords(raw string, out *[]model.Word) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
