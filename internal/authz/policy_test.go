package authz

import (
	"strings"
	"testing"
	"time"

	"keygate.org/internal/auth"
)

var evalTime = time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

func claimsWith(custom map[string]string, roles ...string) auth.ClaimSet {
	return auth.ClaimSet{Subject: "user-1", Roles: roles, Custom: custom}
}

func TestRoleAnyRequirement(t *testing.T) {
	policy := Policy{Name: "AdminOnly", Require: []Requirement{
		{Kind: KindRoleAny, Roles: []string{"admin"}},
	}}

	if d := policy.Evaluate(claimsWith(nil, "admin", "user"), evalTime); !d.Allowed {
		t.Fatalf("expected allow, got deny: %s", d.Reason)
	}
	if d := policy.Evaluate(claimsWith(nil, "user"), evalTime); d.Allowed {
		t.Fatal("expected deny for missing role")
	}
	if d := policy.Evaluate(claimsWith(nil, "Admin"), evalTime); !d.Allowed {
		t.Fatalf("role match should be case-insensitive: %s", d.Reason)
	}
}

func TestMinimumAgeBoundary(t *testing.T) {
	policy := Policy{Name: "Adult", Require: []Requirement{
		{Kind: KindMinimumAge, MinAge: 18},
	}}

	// 17 years old at evaluation time.
	seventeen := claimsWith(map[string]string{ClaimBirthdate: "2008-06-01"})
	if d := policy.Evaluate(seventeen, evalTime); d.Allowed {
		t.Fatal("expected deny for 17-year-old")
	}

	// Corrected birthdate: 18 years old.
	eighteen := claimsWith(map[string]string{ClaimBirthdate: "2008-01-01"})
	if d := policy.Evaluate(eighteen, evalTime); !d.Allowed {
		t.Fatalf("expected allow for 18-year-old: %s", d.Reason)
	}

	// Exactly 18 on the evaluation day.
	birthday := claimsWith(map[string]string{ClaimBirthdate: "2008-03-15"})
	if d := policy.Evaluate(birthday, evalTime); !d.Allowed {
		t.Fatalf("expected allow on 18th birthday: %s", d.Reason)
	}
}

func TestMinimumAgeDeniesMissingOrUnparsableClaim(t *testing.T) {
	policy := Policy{Name: "Adult", Require: []Requirement{
		{Kind: KindMinimumAge, MinAge: 18},
	}}

	if d := policy.Evaluate(claimsWith(nil), evalTime); d.Allowed {
		t.Fatal("expected deny when birthdate claim missing")
	}
	garbage := claimsWith(map[string]string{ClaimBirthdate: "not-a-date"})
	if d := policy.Evaluate(garbage, evalTime); d.Allowed {
		t.Fatal("expected deny for unparsable birthdate")
	}
}

func TestDepartmentRequirement(t *testing.T) {
	policy := Policy{Name: "Engineering", Require: []Requirement{
		{Kind: KindDepartmentIn, Departments: []string{"engineering", "platform"}},
	}}

	eng := claimsWith(map[string]string{ClaimDepartment: "Engineering"})
	if d := policy.Evaluate(eng, evalTime); !d.Allowed {
		t.Fatalf("expected allow: %s", d.Reason)
	}
	sales := claimsWith(map[string]string{ClaimDepartment: "sales"})
	if d := policy.Evaluate(sales, evalTime); d.Allowed {
		t.Fatal("expected deny for unlisted department")
	}
	if d := policy.Evaluate(claimsWith(nil), evalTime); d.Allowed {
		t.Fatal("expected deny when department claim missing")
	}
}

func TestTimeWindowInclusiveBounds(t *testing.T) {
	// 09:00–17:00, evaluation at the exact bounds.
	policy := Policy{Name: "BusinessHours", Require: []Requirement{
		{Kind: KindTimeWindow, WindowStart: 9 * 60, WindowEnd: 17 * 60},
	}}

	cases := map[time.Time]bool{
		time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC):  true,
		time.Date(2026, 3, 15, 17, 0, 0, 0, time.UTC): true,
		time.Date(2026, 3, 15, 8, 59, 0, 0, time.UTC): false,
		time.Date(2026, 3, 15, 17, 1, 0, 0, time.UTC): false,
	}
	for at, want := range cases {
		d := policy.Evaluate(claimsWith(nil), at)
		if d.Allowed != want {
			t.Fatalf("at %v: got allowed=%v, want %v", at, d.Allowed, want)
		}
	}
}

func TestTimeWindowSpansMidnight(t *testing.T) {
	policy := Policy{Name: "NightShift", Require: []Requirement{
		{Kind: KindTimeWindow, WindowStart: 22 * 60, WindowEnd: 6 * 60},
	}}

	late := time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)
	early := time.Date(2026, 3, 15, 5, 0, 0, 0, time.UTC)
	noon := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	if d := policy.Evaluate(claimsWith(nil), late); !d.Allowed {
		t.Fatalf("expected allow at 23:30: %s", d.Reason)
	}
	if d := policy.Evaluate(claimsWith(nil), early); !d.Allowed {
		t.Fatalf("expected allow at 05:00: %s", d.Reason)
	}
	if d := policy.Evaluate(claimsWith(nil), noon); d.Allowed {
		t.Fatal("expected deny at noon")
	}
}

func TestCompoundShortCircuitsOnFirstDeny(t *testing.T) {
	policy := Policy{Name: "AdultEngineer", Require: []Requirement{
		{Kind: KindRoleAny, Roles: []string{"user"}},
		{Kind: KindMinimumAge, MinAge: 18},
		{Kind: KindDepartmentIn, Departments: []string{"engineering"}},
	}}

	// Second requirement fails; its reason must be reported, not the third's.
	claims := claimsWith(map[string]string{
		ClaimBirthdate:  "2010-01-01",
		ClaimDepartment: "sales",
	}, "user")
	d := policy.Evaluate(claims, evalTime)
	if d.Allowed {
		t.Fatal("expected deny")
	}
	if !strings.Contains(d.Reason, "minimum age") {
		t.Fatalf("expected minimum-age reason, got: %s", d.Reason)
	}

	adult := claimsWith(map[string]string{
		ClaimBirthdate:  "1990-01-01",
		ClaimDepartment: "engineering",
	}, "user")
	if d := policy.Evaluate(adult, evalTime); !d.Allowed {
		t.Fatalf("expected allow: %s", d.Reason)
	}
}

func TestEmptyPolicyDenies(t *testing.T) {
	policy := Policy{Name: "Empty"}
	if d := policy.Evaluate(claimsWith(nil, "admin"), evalTime); d.Allowed {
		t.Fatal("policy without requirements must deny")
	}
}
