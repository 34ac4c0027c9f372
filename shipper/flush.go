package shipper

import (
	"context"
	"time"
)

// runFlushLoop starts the flush loop goroutine, driven by a
// time.Ticker at s.tickInterval. It exits when tickerStop is closed
// (from Close), signaling completion on tickerDone.
func (s *Shipper) runFlushLoop() {
	go func() {
		defer close(s.tickerDone)

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.tickerStop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// tick runs one flush loop iteration. A tick is skipped outright, not
// queued, if the previous tick's dispatch hasn't settled yet, and if
// flushing has been disabled by the circuit breaker or there are no
// targets configured.
func (s *Shipper) tick() {
	if !s.flushEnabled.Load() {
		return
	}
	if s.targets.len() == 0 {
		return
	}
	if !s.ticking.CompareAndSwap(false, true) {
		s.log.Debug("skipping tick: previous dispatch still in flight")
		return
	}
	defer s.ticking.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*s.tickInterval)
	defer cancel()

	eventBatch := makeBatch(s.eventBuf, s.maxBatchBytes, s.log)
	logBatch := makeBatch(s.logBuf, s.maxBatchBytes, s.log)

	if len(eventBatch) == 0 && len(logBatch) == 0 {
		return
	}

	eventsOK, logsOK := true, true

	done := make(chan struct{}, 2)
	if len(eventBatch) > 0 {
		go func() {
			eventsOK = s.dispatchEventsTracked(ctx, eventBatch)
			done <- struct{}{}
		}()
	} else {
		done <- struct{}{}
	}
	if len(logBatch) > 0 {
		go func() {
			logsOK = s.dispatchLogsTracked(ctx, logBatch)
			done <- struct{}{}
		}()
	} else {
		done <- struct{}{}
	}
	<-done
	<-done

	s.recordTickOutcome(eventsOK && logsOK)
}

// dispatchEventsTracked dispatches one event batch and reports success.
func (s *Shipper) dispatchEventsTracked(ctx context.Context, batch []EventRecord) bool {
	env := s.session.eventEnvelope(batch)
	ok := s.dispatcher.dispatch(ctx, "events", env, s.targets.all())
	if ok {
		s.eventsShipped.Add(int64(len(batch)))
	} else {
		s.eventsDropped.Add(int64(len(batch)))
	}
	return ok
}

// dispatchLogsTracked dispatches one log batch and reports success.
func (s *Shipper) dispatchLogsTracked(ctx context.Context, batch []LogRecord) bool {
	env := s.session.logEnvelope(batch)
	ok := s.dispatcher.dispatch(ctx, "log-entries", env, s.targets.all())
	if ok {
		s.logsShipped.Add(int64(len(batch)))
	} else {
		s.logsDropped.Add(int64(len(batch)))
	}
	return ok
}

// recordTickOutcome updates the consecutive-failure circuit breaker:
// success resets the counter; failure increments it and, at
// MaxConsecutiveFailures, disables further flushing. The buffers keep
// accepting new records either way.
func (s *Shipper) recordTickOutcome(success bool) {
	if success {
		s.consecutiveFailures.Store(0)
		return
	}

	n := s.consecutiveFailures.Add(1)
	if n >= MaxConsecutiveFailures {
		s.flushEnabled.Store(false)
		s.log.Debug("disabling flush after consecutive failures", "count", n)
	}
}
