package shipper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// TickInterval is the default flush loop period.
const TickInterval = 1 * time.Second

// MaxBatchBytesDefault is the default per-batch byte budget: 600 KiB,
// chosen to sit below typical reverse-proxy body limits while still
// amortizing HTTP overhead.
const MaxBatchBytesDefault = 600 * 1024

// MaxConsecutiveFailures is the circuit breaker threshold: after this
// many ticks in a row with at least one failed dispatch, flushing
// disables itself.
const MaxConsecutiveFailures = 10

// controlEventWorkflowRunRegistered is the one control event this
// package interprets.
const controlEventWorkflowRunRegistered = "_workflowRunRegistered"

// Config configures a new Shipper. EventBus and LogSource are required
// external collaborators; failing to wire either is a
// ListenerRegistrationFailure and New returns an error rather than
// constructing a half-working shipper.
type Config struct {
	// Log is the operational logger this package uses for its own
	// breadcrumbs (oversize drops, dispatch failures, circuit breaker
	// trips). Defaults to slog.Default().
	Log *slog.Logger

	// MaxLogLevel is the inclusive ceiling for log records streamed
	// into the log buffer: records with Level > MaxLogLevel are
	// dropped before ever reaching the buffer.
	MaxLogLevel LogLevel

	Session *SessionContext

	EventBus  EventBus
	LogSource Logger

	// Enterprise is the session API client used for the implicit
	// enterprise target. Required.
	Enterprise EnterprisePoster

	// ExternalTargets are appended, in order, after the implicit
	// enterprise target.
	ExternalTargets []Target

	// HTTPClient is used for external-target dispatch. Defaults to a
	// client with a 30s timeout.
	HTTPClient *http.Client

	StreamEvents bool
	StreamLogs   bool

	MaxBatchBytes int
	TickInterval  time.Duration

	// ShouldStream decides, per non-control event, whether it is
	// eligible for buffering. Nil means every non-control event is
	// eligible.
	ShouldStream func(name string, payload json.RawMessage) bool
}

// Shipper is the buffered telemetry shipper's lifecycle controller: it
// owns the two record buffers, the flush loop, and the
// subscribe/unsubscribe/drain contract around them.
type Shipper struct {
	log          *slog.Logger
	maxLogLevel  LogLevel
	session      *SessionContext
	shouldStream func(name string, payload json.RawMessage) bool

	streamEvents bool
	streamLogs   bool

	eventBuf *ringBuffer[EventRecord]
	logBuf   *ringBuffer[LogRecord]

	targets    targetRegistry
	dispatcher *dispatcher

	maxBatchBytes int
	tickInterval  time.Duration

	// Event bus binding; rebindable via Connect.
	busMu    sync.Mutex
	bus      EventBus
	eventSub Subscription

	logSource Logger
	logSub    Subscription

	closed       atomic.Bool
	flushEnabled atomic.Bool
	ticking      atomic.Bool

	consecutiveFailures atomic.Int64

	eventsShipped atomic.Int64
	eventsDropped atomic.Int64
	logsShipped   atomic.Int64
	logsDropped   atomic.Int64

	tickerStop chan struct{}
	tickerDone chan struct{}

	closeOnce sync.Once
}

// New constructs a Shipper, subscribes it to the given event bus and
// log source, and starts its flush loop.
func New(cfg Config) (*Shipper, error) {
	if cfg.EventBus == nil {
		return nil, fmt.Errorf("shipper: EventBus is required (ListenerRegistrationFailure)")
	}
	if cfg.LogSource == nil {
		return nil, fmt.Errorf("shipper: LogSource is required (ListenerRegistrationFailure)")
	}
	if cfg.Enterprise == nil {
		return nil, fmt.Errorf("shipper: Enterprise poster is required (ListenerRegistrationFailure)")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "shipper")

	session := cfg.Session
	if session == nil {
		session = &SessionContext{}
	}

	maxBatchBytes := cfg.MaxBatchBytes
	if maxBatchBytes <= 0 {
		maxBatchBytes = MaxBatchBytesDefault
	}

	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = TickInterval
	}

	s := &Shipper{
		log:           log,
		maxLogLevel:   cfg.MaxLogLevel,
		session:       session,
		shouldStream:  cfg.ShouldStream,
		streamEvents:  cfg.StreamEvents,
		streamLogs:    cfg.StreamLogs,
		eventBuf:      &ringBuffer[EventRecord]{},
		logBuf:        &ringBuffer[LogRecord]{},
		targets:       newTargetRegistry(cfg.ExternalTargets),
		dispatcher:    newDispatcher(cfg.Enterprise, cfg.HTTPClient, log),
		maxBatchBytes: maxBatchBytes,
		tickInterval:  tickInterval,
		logSource:     cfg.LogSource,
		tickerStop:    make(chan struct{}),
		tickerDone:    make(chan struct{}),
	}
	s.flushEnabled.Store(true)

	s.logSub = cfg.LogSource.OnAny(s.onLogEvent)
	s.bus = cfg.EventBus
	s.eventSub = cfg.EventBus.OnAny(s.onEvent)

	s.runFlushLoop()

	return s, nil
}

// Connect unsubscribes from the previously bound event bus, if any,
// and subscribes to newBus. The log-stream subscription is untouched.
func (s *Shipper) Connect(newBus EventBus) {
	if s.closed.Load() {
		return
	}

	s.busMu.Lock()
	defer s.busMu.Unlock()

	if s.bus != nil {
		s.bus.OffAny(s.eventSub)
	}
	s.bus = newBus
	if newBus != nil {
		s.eventSub = newBus.OnAny(s.onEvent)
	}
}

// Emit is the producer-side entry point for events originating inside
// the host program itself, bypassing the event bus.
func (s *Shipper) Emit(name string, payload json.RawMessage) {
	if s.closed.Load() {
		return
	}
	s.handleEvent(name, payload)
}

// StreamLog converts a raw log entry to the canonical wire shape and,
// if streaming logs is enabled, appends it to the log buffer.
func (s *Shipper) StreamLog(entry RawLogEvent) {
	if s.closed.Load() {
		return
	}
	s.onLogEvent(entry)
}

// onEvent is the EventBus subscription handler.
func (s *Shipper) onEvent(name string, payload json.RawMessage) {
	if s.closed.Load() {
		return
	}
	s.handleEvent(name, payload)
}

// handleEvent implements control-event routing and the streaming
// filter common to both Emit and the bus subscription handler.
func (s *Shipper) handleEvent(name string, payload json.RawMessage) {
	if isControlEvent(name) {
		s.handleControlEvent(name, payload)
		return
	}

	if !s.streamEvents {
		return
	}
	if s.shouldStream != nil && !s.shouldStream(name, payload) {
		return
	}

	s.eventBuf.append(EventRecord{
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// isControlEvent reports whether name is reserved for intra-process
// coordination.
func isControlEvent(name string) bool {
	return len(name) > 0 && name[0] == '_'
}

// handleControlEvent processes a control event. The only one defined
// is workflowRunRegistered; any other control-named event is ignored
// for routing purposes.
func (s *Shipper) handleControlEvent(name string, payload json.RawMessage) {
	if name != controlEventWorkflowRunRegistered {
		return
	}
	var body struct {
		WorkflowRunUID string `json:"workflowRunUid"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.log.Debug("malformed workflowRunRegistered payload", "error", err)
		return
	}
	s.session.workflowRunID.setOnce(body.WorkflowRunUID)
}

// onLogEvent is the Logger subscription handler. It filters by
// MaxLogLevel, discards the shipper's own internal breadcrumbs by
// source rather than level, converts to the canonical LogRecord, and
// appends it to the log buffer.
func (s *Shipper) onLogEvent(ev RawLogEvent) {
	if s.closed.Load() {
		return
	}
	if ev.Internal {
		return
	}
	if ev.Level > s.maxLogLevel {
		return
	}
	if !s.streamLogs {
		return
	}

	s.logBuf.append(LogRecord{
		Key:       ev.Key,
		Timestamp: ev.Timestamp,
		Level:     ev.Level,
		Context:   ev.Context,
		Metadata:  ev.Metadata,
		Message:   ev.Message,
	})
}

// Stats reports point-in-time counters useful for observability and
// tests.
type Stats struct {
	QueuedEvents int
	QueuedLogs   int

	EventsShipped int64
	EventsDropped int64
	LogsShipped   int64
	LogsDropped   int64

	ConsecutiveFailures int64
	FlushEnabled        bool
	Closed              bool
}

// Stats returns a snapshot of the shipper's current counters.
func (s *Shipper) Stats() Stats {
	return Stats{
		QueuedEvents:        s.eventBuf.len(),
		QueuedLogs:          s.logBuf.len(),
		EventsShipped:       s.eventsShipped.Load(),
		EventsDropped:       s.eventsDropped.Load(),
		LogsShipped:         s.logsShipped.Load(),
		LogsDropped:         s.logsDropped.Load(),
		ConsecutiveFailures: s.consecutiveFailures.Load(),
		FlushEnabled:        s.flushEnabled.Load(),
		Closed:              s.closed.Load(),
	}
}

// Close is idempotent: it stops the flush timer, unsubscribes both
// listeners, and repeatedly batches-and-dispatches both buffers until
// both are empty, dispatching each round in parallel. It never returns
// an error; dispatch failures during drain are logged, not surfaced
// to the host.
func (s *Shipper) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		close(s.tickerStop)
		<-s.tickerDone

		s.busMu.Lock()
		if s.bus != nil {
			s.bus.OffAny(s.eventSub)
		}
		s.busMu.Unlock()
		s.logSource.OffAny(s.logSub)

		s.drain(ctx)
	})
}

// drain batches both buffers down to empty via makeAllBatches and
// dispatches every resulting batch, events and logs in parallel with
// each other.
func (s *Shipper) drain(ctx context.Context) {
	eventBatches := makeAllBatches(s.eventBuf, s.maxBatchBytes, s.log)
	logBatches := makeAllBatches(s.logBuf, s.maxBatchBytes, s.log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, batch := range eventBatches {
			s.dispatchEventsTracked(ctx, batch)
		}
	}()
	go func() {
		defer wg.Done()
		for _, batch := range logBatches {
			s.dispatchLogsTracked(ctx, batch)
		}
	}()
	wg.Wait()
}
