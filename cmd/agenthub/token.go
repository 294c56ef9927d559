package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/agenthub/pkg/security"
	"github.com/cuemby/agenthub/pkg/storage"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage dashboard access tokens",
	Long: `Manage dashboard access tokens.

The token database is locked while the server runs; stop the server before
creating or revoking tokens.`,
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")

		tm, closeFn, err := openTokenManager(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		token, err := tm.GenerateToken(args[0], ttl)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Token created: %s\n", token.ID)
		fmt.Printf("  Secret: %s\n", token.Secret)
		if !token.ExpiresAt.IsZero() {
			fmt.Printf("  Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List access tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		tm, closeFn, err := openTokenManager(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		tokens, err := tm.ListTokens()
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			fmt.Println("No tokens found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCREATED\tEXPIRES")
		now := time.Now()
		for _, t := range tokens {
			expires := "never"
			if !t.ExpiresAt.IsZero() {
				expires = t.ExpiresAt.Format(time.RFC3339)
				if t.Expired(now) {
					expires += " (expired)"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.CreatedAt.Format(time.RFC3339), expires)
		}
		return w.Flush()
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke ID",
	Short: "Revoke an access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tm, closeFn, err := openTokenManager(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := tm.RevokeToken(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Token revoked: %s\n", args[0])
		return nil
	},
}

func init() {
	tokenCmd.PersistentFlags().String("token-db", "", "Token database path (default <data-dir>/tokens.db)")

	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)

	tokenCreateCmd.Flags().Duration("ttl", 0, "Token lifetime (0 = never expires)")
}

func openTokenManager(cmd *cobra.Command) (*security.TokenManager, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewBoltStore(cfg.Auth.TokenDB)
	if err != nil {
		return nil, nil, err
	}
	return security.NewTokenManager(store), func() { store.Close() }, nil
}
