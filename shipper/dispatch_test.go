package shipper

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type stubEnterprisePoster struct {
	err error
}

func (p *stubEnterprisePoster) Post(ctx context.Context, path string, body any, retry bool, maxAttempts int, description string) error {
	return p.err
}

func TestDispatchZeroTargetsSucceeds(t *testing.T) {
	d := newDispatcher(&stubEnterprisePoster{}, nil, nil)
	if ok := d.dispatch(context.Background(), "events", map[string]any{}, nil); !ok {
		t.Fatalf("dispatch() with zero targets = false, want true")
	}
}

func TestDispatchAllSucceedReturnsTrue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newDispatcher(&stubEnterprisePoster{}, srv.Client(), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	targets := []Target{
		NewEnterpriseTarget(),
		NewExternalTarget(srv.URL, "tok"),
	}

	if ok := d.dispatch(context.Background(), "events", map[string]any{"n": 1}, targets); !ok {
		t.Fatalf("dispatch() = false, want true when every target succeeds")
	}
}

func TestDispatchOneTargetFailingDoesNotCancelOthers(t *testing.T) {
	var externalHit atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		externalHit.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newDispatcher(&stubEnterprisePoster{err: errors.New("enterprise down")}, srv.Client(),
		slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	targets := []Target{
		NewEnterpriseTarget(),
		NewExternalTarget(srv.URL, "tok"),
	}

	ok := d.dispatch(context.Background(), "events", map[string]any{"n": 1}, targets)
	if ok {
		t.Fatalf("dispatch() = true, want false since enterprise target failed")
	}
	if !externalHit.Load() {
		t.Fatalf("external target was never reached despite enterprise failure")
	}
}

func TestPostExternalNonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newDispatcher(&stubEnterprisePoster{}, srv.Client(), nil)
	err := d.postExternal(context.Background(), "events", map[string]any{}, NewExternalTarget(srv.URL, "tok"))
	if err == nil {
		t.Fatalf("postExternal() error = nil, want non-nil for 500 response")
	}
}
