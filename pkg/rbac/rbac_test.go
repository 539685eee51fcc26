package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRolePermissions(t *testing.T) {
	assert.True(t, HasPermission(RoleUser, PermissionSubmitJob))
	assert.False(t, HasPermission(RoleUser, PermissionReviewJob))
	assert.True(t, HasPermission(RoleReviewer, PermissionReviewJob))
	assert.False(t, HasPermission(RoleReviewer, PermissionAdminAccount))
	assert.True(t, HasPermission("ADMIN ", PermissionAdminAccount))
}

func TestUnknownRoleFallsBackToUser(t *testing.T) {
	assert.Equal(t, RoleUser, NormalizeRole(""))
	assert.Equal(t, RoleUser, NormalizeRole("superuser"))
	var denied *PermissionDeniedError
	assert.ErrorAs(t, CheckPermission("superuser", PermissionReviewJob), &denied)
}
