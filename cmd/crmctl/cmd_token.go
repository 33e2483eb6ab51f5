package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/middleware"
)

func newTokenCmd() *cobra.Command {
	var (
		secret, issuer   string
		role             string
		brokerID, teamID string
		ttl              time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a bearer token for a principal",
		Long:  "Signs an HS256 token with the server's JWT_SECRET. Intended for operators and local testing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			p, err := tokenPrincipal(args[0], role, brokerID, teamID)
			if err != nil {
				return err
			}
			v, err := middleware.NewJWTValidator(secret, issuer)
			if err != nil {
				return err
			}
			tok, err := v.Issue(p, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (env: JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", "crm", "Token issuer; must match the server's JWT_ISSUER")
	cmd.Flags().StringVar(&role, "role", string(access.RoleAgent), "Role: agent|team_owner|broker|system_admin")
	cmd.Flags().StringVar(&brokerID, "broker", "", "Broker ID")
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func tokenPrincipal(id, role, brokerID, teamID string) (access.Principal, error) {
	r, err := access.ParseRole(role)
	if err != nil {
		return access.Principal{}, err
	}
	p := access.Principal{ID: id, Role: r}
	if brokerID != "" {
		p.BrokerID = &brokerID
	}
	if teamID != "" {
		p.TeamID = &teamID
	}
	return p, nil
}
