package rbac

import "strings"

// Permissions
const (
	PermissionSubmitJob    = "job:submit"
	PermissionReadOwnJobs  = "job:read_own"
	PermissionReviewJob    = "job:review"
	PermissionAdminAccount = "account:admin"
)

// Roles
const (
	RoleUser     = "user"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionSubmitJob,
		PermissionReadOwnJobs,
	},
	RoleReviewer: {
		PermissionSubmitJob,
		PermissionReadOwnJobs,
		PermissionReviewJob,
	},
	RoleAdmin: {
		PermissionSubmitJob,
		PermissionReadOwnJobs,
		PermissionReviewJob,
		PermissionAdminAccount,
	},
}

// NormalizeRole maps a stored role cell to a known role; blank or unknown is user.
func NormalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleUser
}

// HasPermission reports whether role grants permission.
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[NormalizeRole(role)] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission is HasPermission returning an error.
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{Role: role, Permission: permission}
	}
	return nil
}

// PermissionDeniedError reports a missing permission.
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
