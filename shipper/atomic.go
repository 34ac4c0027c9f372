package shipper

import "go.uber.org/atomic"

// atomicString is a write-once-then-read-many string, used for
// SessionContext.workflowRunID: set at most once by a control event,
// read by the flush loop when building every outgoing envelope.
type atomicString struct {
	v atomic.String
}

// setOnce stores val iff no value has been stored yet. Returns false if
// a value was already present.
func (a *atomicString) setOnce(val string) bool {
	return a.v.CompareAndSwap("", val)
}

func (a *atomicString) load() string {
	return a.v.Load()
}
