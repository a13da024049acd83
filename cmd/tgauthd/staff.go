package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/medmarket/tgauth"
	"github.com/medmarket/tgauth/internal/config"
	"github.com/medmarket/tgauth/password"
	"github.com/medmarket/tgauth/storage/postgres"
)

const staffPasswordEnv = "TGAUTH_STAFF_PASSWORD"

func createStaffCmd(configPath *string) *cobra.Command {
	var (
		firstName string
		lastName  string
	)

	cmd := &cobra.Command{
		Use:   "create-staff <admin|supplier|delivery_agent> <email-or-phone>",
		Short: "Create a staff password account",
		Long: `Create an admin or supplier account keyed by email, or a delivery agent
keyed by phone number. The password is read from ` + staffPasswordEnv + `.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := tgauth.ParseRole(args[0])
			if !ok || !role.IsStaff() {
				return fmt.Errorf("role %q has no password login", args[0])
			}
			secret := os.Getenv(staffPasswordEnv)
			if secret == "" {
				return errors.New(staffPasswordEnv + " is not set")
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			engineCfg, err := cfg.Engine()
			if err != nil {
				return err
			}
			hasher, err := password.NewHasher(engineCfg.Password)
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(secret)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			st, err := postgres.New(ctx, cfg.DB.URL)
			if err != nil {
				return err
			}
			defer st.Close()

			acc := postgres.StaffAccount{Role: role, FirstName: firstName, LastName: lastName, PasswordHash: hash}
			if role == tgauth.RoleDeliveryAgent {
				acc.PhoneNumber = args[1]
			} else {
				acc.Email = args[1]
			}
			rec, err := st.CreateStaff(ctx, acc)
			if err != nil {
				return err
			}
			cmd.Printf("created %s %s\n", rec.Role, rec.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	return cmd
}
