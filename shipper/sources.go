package shipper

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Subscription is an opaque handle returned by Subscribe-shaped calls
// and consumed by the matching Unsubscribe/OffAny call, rather than
// relying on function-value identity for attach/detach.
type Subscription struct {
	id uuid.UUID
}

func newSubscription() Subscription {
	return Subscription{id: uuid.New()}
}

// NewSubscription mints a fresh opaque Subscription handle, for
// EventBus/Logger implementations outside this package that need to
// hand one back from OnAny.
func NewSubscription() Subscription {
	return newSubscription()
}

func (s Subscription) String() string { return s.id.String() }

// EventHandler receives every event published on an EventBus.
type EventHandler func(name string, payload json.RawMessage)

// EventBus is the application event bus this package observes.
// Its implementation, and the rest of the host's event taxonomy, are
// external collaborators owned by the host program.
type EventBus interface {
	OnAny(handler EventHandler) Subscription
	OffAny(sub Subscription)
}

// RawLogEvent is a single entry observed from a Logger's root stream,
// in the logger's own shape, before being converted to the canonical
// wire LogRecord by StreamLog.
type RawLogEvent struct {
	Key       string
	Timestamp time.Time
	Level     LogLevel
	Context   json.RawMessage
	Metadata  json.RawMessage
	Message   LogMessage

	// Internal marks an entry produced by this package's own operational
	// logging rather than by host application code. A Logger
	// implementation that fans its own sink's writes back out through
	// OnAny (so operational breadcrumbs are observable as log events)
	// must set this so the shipper's own log listener can discard it
	// instead of re-buffering it. The canonical LogHandler registered by
	// this package always discards Internal entries regardless of level.
	Internal bool
}

// LogHandler receives every entry observed from a Logger's root stream.
type LogHandler func(RawLogEvent)

// Logger is the application logger this package observes for log
// shipping. Its rendering and sinks are external collaborators owned
// by the host program; this package only consumes its root event
// stream.
type Logger interface {
	OnAny(handler LogHandler) Subscription
	OffAny(sub Subscription)
}
