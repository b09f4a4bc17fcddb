package main

import (
	"github.com/spf13/cobra"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, syncLogs, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer syncLogs()

			cfg.GraphEnabled = false
			cfg.RedisURL = ""
			conns, err := connect(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			return conns.close(cmd.Context())
		},
	}
}
