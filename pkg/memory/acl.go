package memory

import (
	"context"
	"fmt"
)

// UpsertGrant writes an ACL row. Grants are seeded out-of-band; the gate
// only ever consults them.
func (s *Store) UpsertGrant(ctx context.Context, g Grant) error {
	if g.TenantID == "" || g.Principal == "" {
		return fmt.Errorf("tenant and principal are required: %w", ErrValidation)
	}
	switch g.Permission {
	case PermissionRead, PermissionWrite, PermissionAdmin:
	default:
		return fmt.Errorf("unknown permission %q: %w", g.Permission, ErrValidation)
	}

	granted := 0
	if g.Granted {
		granted = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO acl_grants (tenant_id, scope_id, principal, permission, granted)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, scope_id, principal, permission)
		 DO UPDATE SET granted = excluded.granted`,
		g.TenantID, g.ScopeID, g.Principal, string(g.Permission), granted)
	if err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}
	return nil
}

// CheckAccess is the deny-by-default gate. A scope-specific row wins over a
// tenant-wide row (scope_id = ''); admin implies read and write. No matching
// row means deny.
func (s *Store) CheckAccess(ctx context.Context, tenantID, scopeID, principal string, perm Permission) (bool, error) {
	if principal == "" {
		return false, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT scope_id, granted FROM acl_grants
		 WHERE tenant_id = ? AND principal = ?
		   AND (scope_id = ? OR scope_id = '')
		   AND permission IN (?, ?)`,
		tenantID, principal, scopeID, string(perm), string(PermissionAdmin))
	if err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}
	defer rows.Close()

	var scopeLevel, tenantLevel []bool
	for rows.Next() {
		var rowScope string
		var granted int
		if err := rows.Scan(&rowScope, &granted); err != nil {
			return false, err
		}
		if rowScope != "" {
			scopeLevel = append(scopeLevel, granted == 1)
		} else {
			tenantLevel = append(tenantLevel, granted == 1)
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	// The most specific level decides; an explicit deny at that level
	// overrides any allow at the same level.
	decide := func(level []bool) (allowed, decided bool) {
		if len(level) == 0 {
			return false, false
		}
		for _, g := range level {
			if !g {
				return false, true
			}
		}
		return true, true
	}
	if allowed, decided := decide(scopeLevel); decided {
		return allowed, nil
	}
	allowed, _ := decide(tenantLevel)
	return allowed, nil
}
