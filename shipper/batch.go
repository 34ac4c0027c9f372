package shipper

import (
	"context"
	"fmt"
	"log/slog"
)

// makeBatch drains buf into a single byte-budgeted batch. Every record
// removed from buf ends up either in the returned batch or dropped as
// oversize with a breadcrumb; none can silently vanish.
func makeBatch[T any](buf *ringBuffer[T], maxBytes int, log *slog.Logger) []T {
	var batch []T
	currentBytes := 0

	for {
		head, ok := buf.peekHead()
		if !ok {
			return batch
		}

		n := sizeOf(head)

		if n > maxBytes {
			buf.popHead()
			dropOversize(log, head, n)
			continue
		}

		if currentBytes+n > maxBytes {
			return batch
		}

		buf.popHead()
		batch = append(batch, head)
		currentBytes += n
	}
}

// makeAllBatches repeatedly calls makeBatch until buf is empty,
// returning every batch produced along the way. A buffer holding only
// oversize records (each dropped individually by makeBatch) yields no
// batches at all, not an infinite loop: makeBatch always makes
// progress by either batching or dropping the head record.
func makeAllBatches[T any](buf *ringBuffer[T], maxBytes int, log *slog.Logger) [][]T {
	var batches [][]T
	for buf.len() > 0 {
		before := buf.len()
		batch := makeBatch(buf, maxBytes, log)
		if len(batch) > 0 {
			batches = append(batches, batch)
		}
		if buf.len() == before {
			break
		}
	}
	return batches
}

// dropOversize logs the drop breadcrumb at warn level and re-emits the
// serialized record at the lowest verbosity so a human can inspect what
// was lost. Both go through log, the operational *slog.Logger
// (Config.Log), which the shipper never subscribes to, so neither
// emission can be re-buffered.
func dropOversize[T any](log *slog.Logger, record T, n int) {
	if log == nil {
		return
	}
	log.Warn(fmt.Sprintf("record too large (%d bytes), dropping", n))
	data, err := safeMarshal(record)
	if err != nil {
		return
	}
	log.Log(context.Background(), levelTrace, "dropped record payload", "record", string(data))
}

// levelTrace is the shipper's lowest verbosity level, used for the
// serialized-payload half of an oversize-drop breadcrumb so it never
// appears in a typical operator's log view.
const levelTrace = slog.Level(-8)
