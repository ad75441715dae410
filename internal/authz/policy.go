// Package authz evaluates named authorization policies over validated token
// claims. Evaluation is stateless: a pure function of the claim set and the
// evaluation instant. Every requirement must explicitly succeed; absence of
// evidence (a missing or unparsable claim) is a deny, never an allow.
package authz

import (
	"fmt"
	"strings"
	"time"

	"keygate.org/internal/auth"
)

// Claim names the built-in requirements read.
const (
	ClaimBirthdate  = "birthdate"
	ClaimDepartment = "department"

	birthdateLayout = "2006-01-02"
)

// Decision is the outcome of evaluating a policy. The reason is for logs
// and audit only; HTTP callers see a generic "forbidden".
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// RequirementKind discriminates the requirement variants.
type RequirementKind int

const (
	// KindAuthenticated passes for any validated claim set.
	KindAuthenticated RequirementKind = iota
	// KindRoleAny passes when the claims carry at least one listed role.
	KindRoleAny
	// KindMinimumAge passes when the birthdate claim puts the subject at
	// or above the threshold as of the evaluation instant.
	KindMinimumAge
	// KindDepartmentIn passes when the department claim is listed.
	KindDepartmentIn
	// KindTimeWindow passes when the evaluation time-of-day falls inside
	// the inclusive window.
	KindTimeWindow
)

// Requirement is one condition of a policy. Exactly the fields for its Kind
// are consulted.
type Requirement struct {
	Kind RequirementKind

	Roles       []string
	MinAge      int
	Departments []string

	// Minutes since midnight, inclusive on both ends. Start > End spans
	// midnight.
	WindowStart int
	WindowEnd   int
}

// Policy is a named conjunction of requirements. All must pass; evaluation
// short-circuits on the first deny and reports that requirement's reason.
type Policy struct {
	Name    string
	Require []Requirement
}

// Evaluate applies the policy to the claims at the given instant.
func (p Policy) Evaluate(claims auth.ClaimSet, at time.Time) Decision {
	if len(p.Require) == 0 {
		return deny("policy %q has no requirements", p.Name)
	}
	for _, req := range p.Require {
		if d := req.evaluate(claims, at); !d.Allowed {
			return d
		}
	}
	return allow()
}

func (r Requirement) evaluate(claims auth.ClaimSet, at time.Time) Decision {
	switch r.Kind {
	case KindAuthenticated:
		if strings.TrimSpace(claims.Subject) == "" {
			return deny("no authenticated subject")
		}
		return allow()

	case KindRoleAny:
		for _, role := range r.Roles {
			if claims.HasRole(role) {
				return allow()
			}
		}
		return deny("none of the required roles %v present", r.Roles)

	case KindMinimumAge:
		raw, ok := claims.Claim(ClaimBirthdate)
		if !ok {
			return deny("birthdate claim missing")
		}
		birthdate, err := time.Parse(birthdateLayout, raw)
		if err != nil {
			return deny("birthdate claim unparsable: %q", raw)
		}
		if ageAt(birthdate, at) < r.MinAge {
			return deny("minimum age %d not met", r.MinAge)
		}
		return allow()

	case KindDepartmentIn:
		dept, ok := claims.Claim(ClaimDepartment)
		if !ok {
			return deny("department claim missing")
		}
		for _, allowed := range r.Departments {
			if strings.EqualFold(dept, allowed) {
				return allow()
			}
		}
		return deny("department %q not allowed", dept)

	case KindTimeWindow:
		minute := at.Hour()*60 + at.Minute()
		if inWindow(minute, r.WindowStart, r.WindowEnd) {
			return allow()
		}
		return deny("outside time window [%02d:%02d, %02d:%02d]",
			r.WindowStart/60, r.WindowStart%60, r.WindowEnd/60, r.WindowEnd%60)

	default:
		return deny("unknown requirement kind %d", r.Kind)
	}
}

// ageAt computes completed years between birthdate and the instant.
func ageAt(birthdate, at time.Time) int {
	years := at.Year() - birthdate.Year()
	anniversary := birthdate.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
	}
	return years
}

// inWindow treats both bounds as inclusive; start > end wraps past
// midnight.
func inWindow(minute, start, end int) bool {
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}
