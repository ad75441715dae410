package authz

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"keygate.org/internal/auth"
	"keygate.org/internal/obs"
)

// PolicyAuthenticatedOnly is registered in every registry and allows any
// validated claim set.
const PolicyAuthenticatedOnly = "AuthenticatedOnly"

// Registry holds named policies. Policies are registered during startup and
// only read afterwards.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewRegistry creates a registry pre-populated with AuthenticatedOnly.
func NewRegistry() *Registry {
	r := &Registry{policies: make(map[string]Policy)}
	r.policies[PolicyAuthenticatedOnly] = Policy{
		Name:    PolicyAuthenticatedOnly,
		Require: []Requirement{{Kind: KindAuthenticated}},
	}
	return r
}

// Register adds a policy. Registering a duplicate or unnamed policy is a
// startup error.
func (r *Registry) Register(p Policy) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return fmt.Errorf("authz: policy name is required")
	}
	p.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.policies[name]; exists {
		return fmt.Errorf("authz: policy %q already registered", name)
	}
	r.policies[name] = p
	return nil
}

// MustRegister is Register for static startup wiring.
func (r *Registry) MustRegister(p Policy) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Names lists registered policy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Authorize evaluates the named policy against the claims at the given
// instant. Unknown policy names deny. The specific reason is logged and
// counted, not returned to clients.
func (r *Registry) Authorize(name string, claims auth.ClaimSet, at time.Time) Decision {
	r.mu.RLock()
	policy, ok := r.policies[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		obs.AuthzDecisionsTotal.WithLabelValues("unknown", "deny").Inc()
		log.Warn().Str("policy", name).Msg("authorization denied: unknown policy")
		return deny("unknown policy %q", name)
	}

	decision := policy.Evaluate(claims, at)
	if decision.Allowed {
		obs.AuthzDecisionsTotal.WithLabelValues(policy.Name, "allow").Inc()
	} else {
		obs.AuthzDecisionsTotal.WithLabelValues(policy.Name, "deny").Inc()
		log.Debug().
			Str("policy", policy.Name).
			Str("subject", claims.Subject).
			Str("reason", decision.Reason).
			Msg("authorization denied")
	}
	return decision
}
