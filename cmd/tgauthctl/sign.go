package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/medmarket/tgauth/telegram"
)

const envBotToken = "TELEGRAM_BOT_TOKEN"

// signCmd produces test payloads for local development. It needs the bot token.
func signCmd() *cobra.Command {
	var (
		scheme    string
		id        int64
		firstName string
		lastName  string
		username  string
		age       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a Telegram payload with " + envBotToken + " for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token := os.Getenv(envBotToken)
			if token == "" {
				return errors.New(envBotToken + " is not set")
			}
			sch, ok := telegram.ParseScheme(scheme)
			if !ok {
				return fmt.Errorf("unknown scheme %q", scheme)
			}
			if id <= 0 {
				return errors.New("--id is required")
			}
			authDate := strconv.FormatInt(time.Now().Add(-age).Unix(), 10)

			if sch == telegram.SchemeWidget {
				fields := map[string]string{
					"id":         strconv.FormatInt(id, 10),
					"first_name": firstName,
					"auth_date":  authDate,
				}
				if lastName != "" {
					fields["last_name"] = lastName
				}
				if username != "" {
					fields["username"] = username
				}
				fields["hash"] = telegram.Sign(fields, token, sch)

				out := make(map[string]any, len(fields))
				for k, v := range fields {
					out[k] = v
				}
				out["id"] = id
				out["auth_date"] = json.Number(authDate)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			user, err := json.Marshal(map[string]any{
				"id":         id,
				"first_name": firstName,
				"last_name":  lastName,
				"username":   username,
			})
			if err != nil {
				return err
			}
			fields := map[string]string{
				"user":      string(user),
				"auth_date": authDate,
				"query_id":  "local-" + authDate,
			}
			fields["hash"] = telegram.Sign(fields, token, sch)

			values := url.Values{}
			for k, v := range fields {
				values.Set(k, v)
			}
			fmt.Fprintln(cmd.OutOrStdout(), values.Encode())
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", "webapp", "webapp (initData) or widget (JSON object)")
	cmd.Flags().Int64Var(&id, "id", 0, "Telegram user id")
	cmd.Flags().StringVar(&firstName, "first-name", "Test", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().DurationVar(&age, "age", 0, "backdate auth_date by this much")
	return cmd
}
