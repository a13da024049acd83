package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/medmarket/tgauth"
	"github.com/medmarket/tgauth/client/api"
	"github.com/medmarket/tgauth/telegram"
)

const envStaffPassword = "TGAUTHCTL_PASSWORD"

func loginCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "widget <file|->",
			Short: "Sign in with a Telegram Login Widget JSON object",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := readArg(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				fields, err := telegram.FieldsFromJSON(data)
				if err != nil {
					return err
				}
				return login(cmd, g, api.Credentials{AuthData: fields})
			},
		},
		&cobra.Command{
			Use:   "init-data <file|->",
			Short: "Sign in with a Telegram Mini App initData string",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := readArg(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				return login(cmd, g, api.Credentials{InitData: strings.TrimSpace(string(data))})
			},
		},
		&cobra.Command{
			Use:   "staff <admin|supplier|delivery_agent> <email-or-phone>",
			Short: "Sign in with a staff password read from " + envStaffPassword,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				role, ok := tgauth.ParseRole(args[0])
				if !ok || !role.IsStaff() {
					return fmt.Errorf("role %q has no password login", args[0])
				}
				pw := os.Getenv(envStaffPassword)
				if pw == "" {
					return errors.New(envStaffPassword + " is not set")
				}
				return login(cmd, g, api.Credentials{Role: role, Identifier: args[1], Password: pw})
			},
		},
	)
	return cmd
}

func login(cmd *cobra.Command, g *globalFlags, cred api.Credentials) error {
	ctrl, err := g.controller()
	if err != nil {
		return err
	}
	if err := ctrl.Login(cmd.Context(), cred); err != nil {
		return err
	}
	printState(cmd.OutOrStdout(), ctrl.State())
	return nil
}

func readArg(stdin io.Reader, arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(io.LimitReader(stdin, 64<<10))
	}
	return os.ReadFile(arg)
}
