// Command shipperdemo wires a Shipper against an in-memory event bus
// and logger so its batching and dispatch behavior can be observed
// against a real HTTP collector.
//
// # Usage
//
//	shipperdemo --config /etc/shipper/demo.yaml
//
// # Configuration
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (SHIPPER_*)
//   - Config file (--config)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pilot-net/shipper/client"
	"github.com/pilot-net/shipper/shipper"
	"github.com/pilot-net/shipper/shipperconfig"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to config file")
		baseURL    = flag.String("base-url", "", "Enterprise collector base URL")
		token      = flag.String("token", "", "Enterprise auth token")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg := shipperconfig.DefaultConfig()
	if *configFile != "" {
		fileCfg, err := shipperconfig.LoadFromFile(*configFile)
		if err != nil {
			logger.Error("failed to load config file", "error", err)
			os.Exit(1)
		}
		cfg = fileCfg
	}
	cfg.ApplyEnvOverrides()

	if *baseURL != "" {
		cfg.Enterprise.BaseURL = *baseURL
	}
	if *token != "" {
		cfg.Enterprise.Token = *token
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	enterprise := client.New(client.Config{
		BaseURL:   cfg.Enterprise.BaseURL,
		AuthToken: cfg.Enterprise.Token,
		Logger:    logger,
	})

	var externals []shipper.Target
	for _, t := range cfg.Targets {
		externals = append(externals, shipper.NewExternalTarget(t.Address, t.AuthToken))
	}

	bus := newMemoryBus()
	logSrc := newMemoryLogger()

	s, err := shipper.New(shipper.Config{
		Log:             logger,
		MaxLogLevel:     shipper.LogLevel(cfg.Logging.MaxLogLevel),
		EventBus:        bus,
		LogSource:       logSrc,
		Enterprise:      enterprise,
		ExternalTargets: externals,
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
		StreamEvents:    true,
		StreamLogs:      cfg.Logging.StreamLogs,
		MaxBatchBytes:   cfg.Batching.MaxBatchBytes,
		TickInterval:    cfg.Batching.TickInterval,
	})
	if err != nil {
		logger.Error("failed to create shipper", "error", err)
		os.Exit(1)
	}

	registry := &shipper.SignalCleanupRegistry{}
	s.InstallAbnormalExitHook(registry, context.Background())

	logger.Info("shipper demo started",
		"enterprise", cfg.Enterprise.BaseURL,
		"external_targets", len(externals))

	bus.Publish("demoEventFired", json.RawMessage(`{"n":1}`))
	logSrc.Publish(shipper.RawLogEvent{
		Key:       "demo",
		Timestamp: time.Now().UTC(),
		Level:     shipper.LogLevel(30),
		Message:   shipper.LogMessage{Section: "demo", Msg: "hello from shipperdemo", RawMsg: "hello from shipperdemo"},
	})

	select {}
}

// memoryBus is a minimal in-process shipper.EventBus for demonstration
// purposes, fanning each Publish out to every subscribed handler.
type memoryBus struct {
	mu       sync.Mutex
	handlers map[shipper.Subscription]shipper.EventHandler
}

func newMemoryBus() *memoryBus {
	return &memoryBus{handlers: make(map[shipper.Subscription]shipper.EventHandler)}
}

func (b *memoryBus) OnAny(h shipper.EventHandler) shipper.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := shipper.NewSubscription()
	b.handlers[sub] = h
	return sub
}

func (b *memoryBus) OffAny(sub shipper.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, sub)
}

func (b *memoryBus) Publish(name string, payload json.RawMessage) {
	b.mu.Lock()
	handlers := make([]shipper.EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(name, payload)
	}
}

// memoryLogger is a minimal in-process shipper.Logger.
type memoryLogger struct {
	mu       sync.Mutex
	handlers map[shipper.Subscription]shipper.LogHandler
}

func newMemoryLogger() *memoryLogger {
	return &memoryLogger{handlers: make(map[shipper.Subscription]shipper.LogHandler)}
}

func (l *memoryLogger) OnAny(h shipper.LogHandler) shipper.Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub := shipper.NewSubscription()
	l.handlers[sub] = h
	return sub
}

func (l *memoryLogger) OffAny(sub shipper.Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, sub)
}

func (l *memoryLogger) Publish(ev shipper.RawLogEvent) {
	l.mu.Lock()
	handlers := make([]shipper.LogHandler, 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

