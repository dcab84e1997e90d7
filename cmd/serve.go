package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sitechat/ingest/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest service until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build service: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
