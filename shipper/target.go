package shipper

import "net/http"

// TargetKind distinguishes the two delivery mechanisms a Target can use.
type TargetKind int

const (
	// TargetEnterprise dispatches via the injected session API client,
	// which owns its own auth, retries, and base URL.
	TargetEnterprise TargetKind = iota
	// TargetExternal dispatches via a raw HTTP POST to
	// <address>/<path> with a bearer-style header built from authToken.
	TargetExternal
)

// RetryPolicy describes how a target wants failed deliveries retried.
// Only the enterprise path's session API client actually retries;
// external targets carry a policy purely for descriptive/logging
// purposes since the dispatcher never retries them itself. Retry is a
// property of the target, not the dispatcher.
type RetryPolicy struct {
	MaxAttempts int
	Description string
}

// Target is a single remote delivery endpoint.
type Target struct {
	Kind TargetKind

	// External-only.
	Address   string
	AuthToken string

	Retry RetryPolicy
}

// EnterpriseRetries is the default retry budget for the enterprise
// session API client.
const EnterpriseRetries = 5

// NewEnterpriseTarget builds the implicit, always-first enterprise
// target.
func NewEnterpriseTarget() Target {
	return Target{
		Kind: TargetEnterprise,
		Retry: RetryPolicy{
			MaxAttempts: EnterpriseRetries,
			Description: "telemetry shipper enterprise dispatch",
		},
	}
}

// NewExternalTarget builds a user-configured external target. An empty
// authToken is preserved as-is, rather than rejected or defaulted here;
// the remote decides how to treat an empty bearer token.
func NewExternalTarget(address, authToken string) Target {
	return Target{
		Kind:      TargetExternal,
		Address:   address,
		AuthToken: authToken,
		Retry: RetryPolicy{
			MaxAttempts: 1,
			Description: "telemetry shipper external dispatch",
		},
	}
}

// targetRegistry is the immutable, ordered set of delivery targets for
// one Shipper instance: the enterprise target always first, externals
// appended in construction order.
type targetRegistry struct {
	targets []Target
}

func newTargetRegistry(externals []Target) targetRegistry {
	all := make([]Target, 0, len(externals)+1)
	all = append(all, NewEnterpriseTarget())
	all = append(all, externals...)
	return targetRegistry{targets: all}
}

func (r targetRegistry) len() int { return len(r.targets) }

func (r targetRegistry) all() []Target {
	// Defensive copy: targets is immutable for the shipper's lifetime,
	// but callers must not be able to mutate the registry's backing array.
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// authHeader builds the Authorization header value for an external
// target's raw HTTP dispatch.
func authHeader(t Target) string {
	return "Bearer " + t.AuthToken
}

// applyAuthHeader sets the Authorization header on req for an external
// target, unconditionally: even an empty token still produces an
// empty-suffixed header.
func applyAuthHeader(req *http.Request, t Target) {
	req.Header.Set("Authorization", authHeader(t))
}
