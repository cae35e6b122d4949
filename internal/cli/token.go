package cli

import (
	"fmt"
	"time"

	"estatecrm/internal/config"
	"estatecrm/pkg/rbac"
	"estatecrm/pkg/util"

	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token for a user and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if !rbac.IsKnownRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			token, err := util.GenerateJWT(userID, role, cfg.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id placed in the token")
	cmd.Flags().StringVar(&role, "role", rbac.RoleAgent, "Role: agent, manager or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
