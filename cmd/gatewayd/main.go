// Command gatewayd is the live-stream transcription gateway's process
// entrypoint: loads configuration, wires the Session Manager, the KV
// sink, and the HTTP surface, serves, and shuts down gracefully on
// SIGINT/SIGTERM.
//
// Grounded on cmd/agent/main.go's env-driven wiring and signal
// handling shape, generalized from one audio-device-attached voice
// agent to an HTTP-served multi-session gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lokutor-ai/transcribe-gateway/internal/config"
	"github.com/lokutor-ai/transcribe-gateway/internal/httpapi"
	"github.com/lokutor-ai/transcribe-gateway/internal/logging"
	"github.com/lokutor-ai/transcribe-gateway/internal/session"
	"github.com/lokutor-ai/transcribe-gateway/internal/sink"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.NewSlogLogger(cfg.LogLevel)

	kv, err := sink.NewSQLiteSink(cfg.KVTable+".db", logger)
	if err != nil {
		log.Fatalf("sink: %v", err)
	}
	defer kv.Close()

	vocab, err := config.NewVocabularyWatcher(cfg.VocabularyFile)
	if err != nil {
		log.Fatalf("vocabulary: %v", err)
	}
	vocab.Watch(logger)

	manager := session.New(cfg.SessionCap)

	srv := httpapi.New(cfg, manager, kv, vocab, logger)

	addr := fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("gatewayd listening", "addr", addr, "service", cfg.ServiceName, "version", cfg.Version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	manager.Shutdown(shutdownCtx)
}
