package shipper

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// CleanupRegistry is the host-owned capability to register a function
// that runs on abnormal process termination. The registry itself is
// process-wide state the host owns; this package only needs the
// capability to register into it.
type CleanupRegistry interface {
	RegisterCleanupFunction(name string, fn func())
}

// InstallAbnormalExitHook registers a cleanup function that emits a
// synthetic sessionCancelled event on the shipper and then closes it,
// swallowing any error. ctx bounds how long Close is allowed to block
// during shutdown so it cannot hang indefinitely.
func (s *Shipper) InstallAbnormalExitHook(registry CleanupRegistry, ctx context.Context) {
	registry.RegisterCleanupFunction("telemetry-shipper-drain", func() {
		s.Emit("sessionCancelled", json.RawMessage(`{}`))
		s.Close(ctx)
	})
}

// SignalCleanupRegistry is a minimal CleanupRegistry backed directly by
// os/signal, suitable for hosts (like the demo binary) that don't
// already run their own process-wide cleanup registry. Every
// RegisterCleanupFunction call subscribes to the signals again, but an
// instance runs at most one registered function: whichever fires first
// wins and the rest are skipped.
type SignalCleanupRegistry struct {
	once sync.Once
}

// RegisterCleanupFunction runs fn once, the first time SIGINT or
// SIGTERM is received.
func (r *SignalCleanupRegistry) RegisterCleanupFunction(name string, fn func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		r.once.Do(fn)
	}()
}
