package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name  string
		role  Role
		perm  Permission
		allow bool
	}{
		{name: "requester read", role: RoleRequester, perm: PermRead, allow: true},
		{name: "requester submit", role: RoleRequester, perm: PermSubmit, allow: true},
		{name: "requester review", role: RoleRequester, perm: PermReview, allow: false},
		{name: "reviewer review", role: RoleReviewer, perm: PermReview, allow: true},
		{name: "reviewer admin", role: RoleReviewer, perm: PermAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, perm: PermAdmin, allow: true},
		{name: "unknown read", role: Role("auditor"), perm: PermRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.perm); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.perm, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("reviewer"); got != RoleReviewer {
		t.Fatalf("Normalize(reviewer) = %q", got)
	}
	if got := Normalize("editor"); got != RoleRequester {
		t.Fatalf("Normalize(editor) = %q, want requester", got)
	}
}
