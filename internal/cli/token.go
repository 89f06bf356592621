package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/unpacker/internal/utils"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		userID int64
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireJWTSecret(); err != nil {
				return err
			}
			if userID <= 0 {
				return fmt.Errorf("--user must be a positive id")
			}
			role = strings.ToUpper(role)
			if role != utils.RoleUser && role != utils.RoleAdmin {
				return fmt.Errorf("--role must be %s or %s", utils.RoleUser, utils.RoleAdmin)
			}
			if ttl <= 0 {
				ttl = a.cfg.AccessTTL()
			}
			tok, err := utils.NewAccessToken(a.cfg.JWTSecret, userID, role, ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tok)
		},
	}
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "user id (token subject)")
	cmd.Flags().StringVarP(&role, "role", "r", utils.RoleUser, "USER or ADMIN")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime (default ACCESS_TOKEN_TTL_MIN)")
	return cmd
}
