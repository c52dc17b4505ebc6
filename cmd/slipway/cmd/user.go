package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipway-hq/slipway/internal/util"
	"github.com/slipway-hq/slipway/perms"
	"github.com/slipway-hq/slipway/store"
)

var (
	newUsername string
	newPassword string
	newRole     string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

// userAddCmd provisions an account directly against the store. Needed to
// bootstrap the first admin before the HTTP API is usable.
var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		username := util.NormalizeUsername(newUsername)
		if username == "" || newPassword == "" {
			return fmt.Errorf("username and password are required")
		}
		if !perms.ValidRole(newRole) {
			return fmt.Errorf("unknown role %q", newRole)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		st, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		hash, salt, err := util.HashPassword(newPassword, util.DefaultArgon2idParams())
		if err != nil {
			return err
		}
		u := &store.User{
			Username:     username,
			Role:         newRole,
			Active:       true,
			PasswordHash: hash,
			PasswordSalt: salt,
		}
		if err := st.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("creating user: %w", err)
		}

		fmt.Printf("created user %q (id %d, role %s)\n", u.Username, u.ID, u.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
	userAddCmd.Flags().StringVar(&newUsername, "username", "", "Account username")
	userAddCmd.Flags().StringVar(&newPassword, "password", "", "Account password")
	userAddCmd.Flags().StringVar(&newRole, "role", perms.RoleReviewer, "Account role (admin, lead, reviewer, observer)")
	userAddCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for the embedded database")
	userAddCmd.Flags().StringVar(&postgresDSN, "postgres-dsn", os.Getenv("SLIPWAY_POSTGRES_DSN"), "PostgreSQL DSN (overrides the embedded database)")
}
