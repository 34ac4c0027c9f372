package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// EnterprisePoster is the enterprise dispatch primitive: the session
// API client's authenticated, retrying POST. Satisfied by
// github.com/pilot-net/shipper/client.Client.
type EnterprisePoster interface {
	Post(ctx context.Context, path string, body any, retry bool, maxAttempts int, description string) error
}

// dispatcher fans a single batch envelope out to every configured
// target concurrently, isolating each target's failure from the
// others.
type dispatcher struct {
	enterprise EnterprisePoster
	httpClient *http.Client
	logger     *slog.Logger
}

func newDispatcher(enterprise EnterprisePoster, httpClient *http.Client, logger *slog.Logger) *dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &dispatcher{enterprise: enterprise, httpClient: httpClient, logger: logger}
}

// dispatch delivers body (an EventBatchEnvelope or LogBatchEnvelope) to
// path ("events" or "log-entries") across every target, waiting for all
// deliveries to settle. It returns true iff every target reported
// success; failures are logged at debug and never returned as an error.
func (d *dispatcher) dispatch(ctx context.Context, path string, body any, targets []Target) bool {
	if len(targets) == 0 {
		return true
	}

	batchID := uuid.New().String()
	outcomes := make([]bool, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			outcomes[i] = d.deliverOne(gctx, path, body, t, batchID)
			// Never return a non-nil error: one target's failure must
			// not cancel the others' in-flight deliveries nor cause
			// dispatch to throw.
			return nil
		})
	}
	_ = g.Wait()

	allOK := true
	for _, ok := range outcomes {
		allOK = allOK && ok
	}
	return allOK
}

func (d *dispatcher) deliverOne(ctx context.Context, path string, body any, t Target, batchID string) bool {
	var err error
	switch t.Kind {
	case TargetEnterprise:
		err = d.enterprise.Post(ctx, path, body, true, t.Retry.MaxAttempts, t.Retry.Description)
	case TargetExternal:
		err = d.postExternal(ctx, path, body, t)
	default:
		err = fmt.Errorf("unknown target kind %v", t.Kind)
	}

	if err != nil {
		if d.logger != nil {
			d.logger.Debug("dispatch failed",
				"batch_id", batchID,
				"path", path,
				"target_kind", targetKindName(t.Kind),
				"error", err)
		}
		return false
	}
	return true
}

// postExternal performs a single, non-retried raw HTTP POST for an
// external target.
func (d *dispatcher) postExternal(ctx context.Context, path string, body any, t Target) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling external payload: %w", err)
	}

	url := t.Address + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating external request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	applyAuthHeader(req, t)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending external request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("external target returned status %d", resp.StatusCode)
	}
	return nil
}

func targetKindName(k TargetKind) string {
	switch k {
	case TargetEnterprise:
		return "enterprise"
	case TargetExternal:
		return "external"
	default:
		return "unknown"
	}
}
