package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grant(t *testing.T, s *Store, tenant, scope, principal string, perm Permission, granted bool) {
	t.Helper()
	require.NoError(t, s.UpsertGrant(context.Background(), Grant{
		TenantID:   tenant,
		ScopeID:    scope,
		Principal:  principal,
		Permission: perm,
		Granted:    granted,
	}))
}

func TestUpsertGrant_Validation(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	err := s.UpsertGrant(ctx, Grant{Principal: "p", Permission: PermissionRead})
	assert.ErrorIs(t, err, ErrValidation)

	err = s.UpsertGrant(ctx, Grant{TenantID: "acme", Permission: PermissionRead})
	assert.ErrorIs(t, err, ErrValidation)

	err = s.UpsertGrant(ctx, Grant{TenantID: "acme", Principal: "p", Permission: "owner"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCheckAccess_DenyByDefault(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	allowed, err := s.CheckAccess(ctx, "acme", "sc_x", "agent-1", PermissionRead)
	require.NoError(t, err)
	assert.False(t, allowed)

	// An empty principal never passes
	allowed, err = s.CheckAccess(ctx, "acme", "sc_x", "", PermissionRead)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckAccess_TenantWideGrant(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	grant(t, s, "acme", "", "agent-1", PermissionRead, true)

	allowed, err := s.CheckAccess(ctx, "acme", "sc_any", "agent-1", PermissionRead)
	require.NoError(t, err)
	assert.True(t, allowed)

	// Read does not imply write
	allowed, err = s.CheckAccess(ctx, "acme", "sc_any", "agent-1", PermissionWrite)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Grants do not cross tenants
	allowed, err = s.CheckAccess(ctx, "globex", "sc_any", "agent-1", PermissionRead)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckAccess_AdminImpliesReadWrite(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	grant(t, s, "acme", "", "boss", PermissionAdmin, true)

	for _, perm := range []Permission{PermissionRead, PermissionWrite, PermissionAdmin} {
		allowed, err := s.CheckAccess(ctx, "acme", "sc_x", "boss", perm)
		require.NoError(t, err)
		assert.True(t, allowed, "admin should imply %s", perm)
	}
}

func TestCheckAccess_ScopeOverridesTenant(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	// Tenant-wide allow, scope-specific deny
	grant(t, s, "acme", "", "agent-1", PermissionRead, true)
	grant(t, s, "acme", "sc_secret", "agent-1", PermissionRead, false)

	allowed, err := s.CheckAccess(ctx, "acme", "sc_secret", "agent-1", PermissionRead)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = s.CheckAccess(ctx, "acme", "sc_open", "agent-1", PermissionRead)
	require.NoError(t, err)
	assert.True(t, allowed)

	// Tenant-wide deny, scope-specific allow
	grant(t, s, "acme", "", "agent-2", PermissionWrite, false)
	grant(t, s, "acme", "sc_project", "agent-2", PermissionWrite, true)

	allowed, err = s.CheckAccess(ctx, "acme", "sc_project", "agent-2", PermissionWrite)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = s.CheckAccess(ctx, "acme", "sc_other", "agent-2", PermissionWrite)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckAccess_UpsertReplacesGrant(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	grant(t, s, "acme", "", "agent-1", PermissionWrite, true)
	grant(t, s, "acme", "", "agent-1", PermissionWrite, false)

	allowed, err := s.CheckAccess(ctx, "acme", "sc_x", "agent-1", PermissionWrite)
	require.NoError(t, err)
	assert.False(t, allowed)
}
