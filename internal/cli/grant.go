package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mnemohq/mnemo/internal/config"
	"github.com/mnemohq/mnemo/pkg/memory"
)

var (
	grantTenant    string
	grantScope     string
	grantPrincipal string
	grantPerm      string
	grantDeny      bool
)

// Grants are seeded out-of-band so the first admin grant does not itself
// require a grant.
var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Add or update an ACL grant",
	Long: `Add or update an ACL grant directly in the database. An empty
--scope makes the grant tenant-wide. The server should not be running
against the same database while granting.`,
	RunE: runGrant,
}

func init() {
	grantCmd.Flags().StringVar(&grantTenant, "tenant", "", "tenant id (required)")
	grantCmd.Flags().StringVar(&grantScope, "scope", "", "scope id, empty for tenant-wide")
	grantCmd.Flags().StringVar(&grantPrincipal, "principal", "", "principal id (required)")
	grantCmd.Flags().StringVar(&grantPerm, "permission", "read", "permission (read, write, admin)")
	grantCmd.Flags().BoolVar(&grantDeny, "deny", false, "record an explicit deny instead of an allow")
	grantCmd.MarkFlagRequired("tenant")
	grantCmd.MarkFlagRequired("principal")
	rootCmd.AddCommand(grantCmd)
}

func runGrant(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	store, err := memory.OpenStore(memory.StoreConfig{
		Path:   cfg.Storage.Path,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grant := memory.Grant{
		TenantID:   grantTenant,
		ScopeID:    grantScope,
		Principal:  grantPrincipal,
		Permission: memory.Permission(grantPerm),
		Granted:    !grantDeny,
	}
	if err := store.UpsertGrant(ctx, grant); err != nil {
		return err
	}

	effect := "allow"
	if grantDeny {
		effect = "deny"
	}
	fmt.Printf("Granted %s %s to %s (tenant %s, scope %q)\n",
		effect, grantPerm, grantPrincipal, grantTenant, grantScope)
	return nil
}
