package rbac

type Role string
type Permission string

const (
	RoleRequester Role = "requester"
	RoleReviewer  Role = "reviewer"
	RoleAdmin     Role = "admin"
)

const (
	PermRead   Permission = "read"
	PermSubmit Permission = "submit"
	PermReview Permission = "review"
	PermAdmin  Permission = "admin"
)

// Can reports whether role holds perm. Reviewers are the Governance Review
// Team; only they and admins may take workflow actions.
func Can(role Role, perm Permission) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReviewer:
		return perm == PermRead || perm == PermSubmit || perm == PermReview
	case RoleRequester:
		return perm == PermRead || perm == PermSubmit
	default:
		return false
	}
}

// Normalize maps unknown roles to requester.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleRequester, RoleReviewer, RoleAdmin:
		return Role(role)
	default:
		return RoleRequester
	}
}

func IsReviewer(role Role) bool {
	return Can(role, PermReview)
}
