package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/medmarket/tgauth/internal/config"
	"github.com/medmarket/tgauth/storage/postgres"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			st, err := postgres.New(ctx, cfg.DB.URL)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return nil
		},
	}
}
