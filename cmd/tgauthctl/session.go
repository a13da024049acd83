package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/medmarket/tgauth"
	"github.com/medmarket/tgauth/client/session"
)

func refreshCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the stored refresh token for a new pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl, err := g.controller()
			if err != nil {
				return err
			}
			if err := ctrl.Init(cmd.Context()); err != nil {
				return err
			}
			if err := ctrl.Refresh(cmd.Context()); err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), ctrl.State())
			return nil
		},
	}
}

func logoutCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl, err := g.controller()
			if err != nil {
				return err
			}
			if err := ctrl.Logout(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("signed out")
			return nil
		},
	}
}

func statusCmd(g *globalFlags) *cobra.Command {
	var printToken bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Restore the session, refreshing it if needed, and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl, err := g.controller()
			if err != nil {
				return err
			}
			if err := ctrl.Init(cmd.Context()); err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), ctrl.State())
			if !printToken {
				return nil
			}
			tok, err := ctrl.AccessToken(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printToken, "token", false, "also print a valid access token")
	return cmd
}

func profileCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Fetch the signed-in user's profile from the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl, err := g.controller()
			if err != nil {
				return err
			}
			if err := ctrl.Init(cmd.Context()); err != nil {
				return err
			}
			var p tgauth.UserProfile
			if err := ctrl.Do(cmd.Context(), http.MethodGet, "/user/profile", nil, &p); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
}

func printState(w io.Writer, st session.State) {
	fmt.Fprintf(w, "status: %s\n", st.Status)
	if st.UserProfile != nil {
		p := st.UserProfile
		fmt.Fprintf(w, "user:   %s (%s)\n", p.ID, p.Role)
		if p.Username != "" {
			fmt.Fprintf(w, "login:  @%s\n", p.Username)
		}
	}
	if st.LastError != nil {
		fmt.Fprintf(w, "error:  %s\n", st.LastError)
	}
}
