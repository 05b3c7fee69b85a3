package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shift-compliance/internal/persistence"
	"github.com/example/shift-compliance/internal/testfixtures"
)

func TestUserDirectory_Principal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, testfixtures.Dataset{Users: []persistence.User{testfixtures.NewMonitor("M8", "Gone", testfixtures.Inactive())}})

	p, err := h.users.Principal(ctx, "admin-1")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin)

	p, err = h.users.Principal(ctx, "admin-x")
	require.NoError(t, err)
	assert.False(t, p.IsAdmin, "unverified admins have no admin rights")

	p, err = h.users.Principal(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "M1"}, p)

	for _, id := range []string{"", "ghost", "M8"} {
		_, err = h.users.Principal(ctx, id)
		assert.ErrorIs(t, err, ErrForbidden, id)
	}
}

func TestUserDirectory_Upsert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.users.Upsert(ctx, admin, UserInput{
		ID: "M7", Email: "M7@Example.com", DisplayName: "Monitor Seven",
		Role: persistence.RoleMonitor, Verified: false, Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "m7@example.com", created.Email)

	h.clock.Advance(time.Minute)
	promoted, err := h.users.Upsert(ctx, admin, UserInput{
		ID: "M7", DisplayName: "Monitor Seven", Role: persistence.RoleMonitor, Verified: true, Active: true,
	})
	require.NoError(t, err)
	assert.True(t, promoted.CreatedAt.Equal(created.CreatedAt))
	assert.True(t, promoted.IsVerifiedMonitor())

	_, err = h.users.Upsert(ctx, admin, UserInput{ID: "M6", DisplayName: "x", Email: "not-an-email", Role: "owner"})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "email")
	assert.Contains(t, vErr.FieldErrors, "role")

	_, err = h.users.Upsert(ctx, monitorM1, UserInput{ID: "M6"})
	assert.ErrorIs(t, err, ErrForbidden)

	admins, err := h.users.ListVerifiedAdmins(ctx)
	require.NoError(t, err)
	assert.Len(t, admins, 2)
}
