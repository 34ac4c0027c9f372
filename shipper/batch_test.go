package shipper

import (
	"bytes"
	"log/slog"
	"strconv"
	"strings"
	"testing"
)

func TestMakeBatchRespectsByteBudget(t *testing.T) {
	buf := &ringBuffer[EventRecord]{}
	for i := 0; i < 5; i++ {
		buf.append(EventRecord{Name: "evt"})
	}

	oneSize := sizeOf(EventRecord{Name: "evt"})
	budget := oneSize*2 + 1 // room for exactly 2 records

	batch := makeBatch(buf, budget, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	if len(batch) != 2 {
		t.Fatalf("len(batch) = %d, want 2", len(batch))
	}
	if got := buf.len(); got != 3 {
		t.Fatalf("remaining buffer len() = %d, want 3", got)
	}
}

func TestMakeBatchDropsOversizeRecordWithBreadcrumb(t *testing.T) {
	var logOut bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logOut, &slog.HandlerOptions{Level: levelTrace}))

	buf := &ringBuffer[EventRecord]{}
	small := EventRecord{Name: "small"}
	big := EventRecord{Name: "big", Payload: []byte(`"` + strings.Repeat("x", 1000) + `"`)}
	buf.append(big)
	buf.append(small)

	bigSize := sizeOf(big)
	smallSize := sizeOf(small)

	batch := makeBatch(buf, smallSize, log)

	if len(batch) != 1 || batch[0].Name != "small" {
		t.Fatalf("batch = %+v, want exactly [small]", batch)
	}
	if got := buf.len(); got != 0 {
		t.Fatalf("buffer should be fully drained, len() = %d", got)
	}

	logged := logOut.String()
	if !strings.Contains(logged, "too large") {
		t.Fatalf("log output missing %q: %s", "too large", logged)
	}
	if !strings.Contains(logged, strconv.Itoa(bigSize)) {
		t.Fatalf("log output missing byte count %d: %s", bigSize, logged)
	}
}

func TestMakeBatchEmptyBufferReturnsNil(t *testing.T) {
	buf := &ringBuffer[EventRecord]{}
	batch := makeBatch(buf, 1024, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if batch != nil {
		t.Fatalf("batch = %v, want nil", batch)
	}
}

func TestMakeAllBatchesDrainsEverythingAcrossMultipleBatches(t *testing.T) {
	buf := &ringBuffer[EventRecord]{}
	for i := 0; i < 5; i++ {
		buf.append(EventRecord{Name: "evt"})
	}

	oneSize := sizeOf(EventRecord{Name: "evt"})
	budget := oneSize*2 + 1 // room for exactly 2 records per batch

	batches := makeAllBatches(buf, budget, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	if got := buf.len(); got != 0 {
		t.Fatalf("buffer should be fully drained, len() = %d", got)
	}

	var total int
	for _, b := range batches {
		if len(b) == 0 {
			t.Fatalf("makeAllBatches returned an empty batch: %+v", batches)
		}
		total += len(b)
	}
	if total != 5 {
		t.Fatalf("total records across batches = %d, want 5", total)
	}
	if len(batches) != 3 {
		t.Fatalf("len(batches) = %d, want 3 (2+2+1)", len(batches))
	}
}

func TestMakeAllBatchesSkipsOversizeRecordsWithoutStalling(t *testing.T) {
	buf := &ringBuffer[EventRecord]{}
	big := EventRecord{Name: "big", Payload: []byte(`"` + strings.Repeat("x", 1000) + `"`)}
	buf.append(big)
	buf.append(big)

	smallBudget := 10 // smaller than any record, so every record is oversize

	batches := makeAllBatches(buf, smallBudget, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	if len(batches) != 0 {
		t.Fatalf("batches = %+v, want none (every record dropped as oversize)", batches)
	}
	if got := buf.len(); got != 0 {
		t.Fatalf("buffer should be fully drained, len() = %d", got)
	}
}

func TestMakeAllBatchesEmptyBufferReturnsNoBatches(t *testing.T) {
	buf := &ringBuffer[EventRecord]{}
	batches := makeAllBatches(buf, 1024, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if len(batches) != 0 {
		t.Fatalf("batches = %+v, want none", batches)
	}
}

