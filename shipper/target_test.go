package shipper

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTargetRegistryEnterpriseAlwaysFirst(t *testing.T) {
	externals := []Target{
		NewExternalTarget("https://a.example.com", "tok-a"),
		NewExternalTarget("https://b.example.com", "tok-b"),
	}
	reg := newTargetRegistry(externals)

	all := reg.all()
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	if all[0].Kind != TargetEnterprise {
		t.Fatalf("all[0].Kind = %v, want TargetEnterprise", all[0].Kind)
	}
	if all[1].Address != "https://a.example.com" || all[2].Address != "https://b.example.com" {
		t.Fatalf("external targets out of order: %+v", all[1:])
	}
}

func TestTargetRegistryAllIsDefensiveCopy(t *testing.T) {
	reg := newTargetRegistry(nil)
	all := reg.all()
	all[0].Address = "mutated"

	again := reg.all()
	if again[0].Address == "mutated" {
		t.Fatalf("mutating all() result leaked into registry state")
	}
}

func TestNewExternalTargetPreservesEmptyAuthToken(t *testing.T) {
	target := NewExternalTarget("https://c.example.com", "")
	if target.AuthToken != "" {
		t.Fatalf("AuthToken = %q, want empty", target.AuthToken)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer " {
			t.Errorf("Authorization header = %q, want %q", got, "Bearer ")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	applyAuthHeader(req, target)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
}

func TestEnterpriseRetryPolicy(t *testing.T) {
	target := NewEnterpriseTarget()
	if target.Retry.MaxAttempts != EnterpriseRetries {
		t.Fatalf("MaxAttempts = %d, want %d", target.Retry.MaxAttempts, EnterpriseRetries)
	}
}
