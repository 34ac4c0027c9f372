// Package shipper implements a buffered telemetry shipper: an in-process
// component that subscribes to an application event bus and a logger,
// buffers the observed records in memory, partitions them into
// size-bounded batches, and periodically POSTs those batches to one or
// more remote collectors.
//
// # Design
//
// Records are buffered in memory and shipped when a recurring tick
// fires. Each tick drains both buffers into at most one batch apiece,
// byte-budgeted so a single batch never exceeds MaxBatchBytes, and
// fans the batches out to every configured target concurrently.
//
// # Resilience
//
// Shipping telemetry is always a side concern: with the single
// exception of listener registration failure, no error from this
// package is ever allowed to reach the host program. A run of
// consecutive dispatch failures disables further flushing (the buffers
// keep accepting records) rather than retrying forever.
package shipper

import (
	"encoding/json"
	"time"
)

// EventRecord is a single application event observed from the event bus.
// Immutable once appended to a buffer.
type EventRecord struct {
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// LogLevel is an integer severity scale where lower is more severe,
// matching the convention spec'd for the host logger.
type LogLevel int

// LogMessage is the rendered body of a LogRecord.
type LogMessage struct {
	Section    string          `json:"section"`
	Msg        string          `json:"msg"`
	RawMsg     string          `json:"rawMsg"`
	Symbol     string          `json:"symbol,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	DataFormat string          `json:"dataFormat,omitempty"`
	Error      string          `json:"error"`
}

// LogRecord is a single log entry observed from the logger's root stream.
type LogRecord struct {
	Key       string          `json:"key"`
	Timestamp time.Time       `json:"timestamp"`
	Level     LogLevel        `json:"level"`
	Context   json.RawMessage `json:"context"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Message   LogMessage      `json:"message"`
}

// EventBatchEnvelope wraps a drained set of event records with the
// session context required by collectors, sent as the body of
// POST /events.
type EventBatchEnvelope struct {
	Events          []EventRecord `json:"events"`
	WorkflowRunUID  string        `json:"workflowRunUid,omitempty"`
	SessionID       *string       `json:"sessionId"`
	ProjectUID      string        `json:"projectUid,omitempty"`
	EnvironmentID   string        `json:"environmentId"`
	NamespaceID     string        `json:"namespaceId"`
	EnvironmentName string        `json:"environment"`
	NamespaceName   string        `json:"namespace"`
}

// LogBatchEnvelope wraps a drained set of log records with the session
// context required by collectors, sent as the body of POST /log-entries.
type LogBatchEnvelope struct {
	LogEntries     []LogRecord `json:"logEntries"`
	WorkflowRunUID string      `json:"workflowRunUid,omitempty"`
	SessionID      *string     `json:"sessionId"`
	ProjectUID     string      `json:"projectUid,omitempty"`
}

// SessionContext carries the process-wide identifiers stamped onto
// every outgoing envelope. WorkflowRunID starts empty and is populated
// exactly once, by the workflowRunRegistered control event.
type SessionContext struct {
	SessionID       string
	ProjectID       string
	EnvironmentID   string
	NamespaceID     string
	EnvironmentName string
	NamespaceName   string

	workflowRunID atomicString
}

// eventEnvelope builds the EventBatchEnvelope for a drained batch of
// event records, stamping whatever workflow run id has been observed
// so far.
func (sc *SessionContext) eventEnvelope(events []EventRecord) EventBatchEnvelope {
	var sessionID *string
	if sc.SessionID != "" {
		id := sc.SessionID
		sessionID = &id
	}
	return EventBatchEnvelope{
		Events:          events,
		WorkflowRunUID:  sc.workflowRunID.load(),
		SessionID:       sessionID,
		ProjectUID:      sc.ProjectID,
		EnvironmentID:   sc.EnvironmentID,
		NamespaceID:     sc.NamespaceID,
		EnvironmentName: sc.EnvironmentName,
		NamespaceName:   sc.NamespaceName,
	}
}

// logEnvelope builds the LogBatchEnvelope for a drained batch of log
// records.
func (sc *SessionContext) logEnvelope(entries []LogRecord) LogBatchEnvelope {
	var sessionID *string
	if sc.SessionID != "" {
		id := sc.SessionID
		sessionID = &id
	}
	return LogBatchEnvelope{
		LogEntries:     entries,
		WorkflowRunUID: sc.workflowRunID.load(),
		SessionID:      sessionID,
		ProjectUID:     sc.ProjectID,
	}
}
