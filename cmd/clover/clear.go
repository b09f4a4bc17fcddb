package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/internal/server"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/kafka"
)

func clearCommand() *cobra.Command {
	var resourceType string

	command := &cobra.Command{
		Use:   "clear",
		Short: "Remove links and the golden records they leave behind",
		Long: `Remove every link, or with --resource-type only the links whose source has that type
plus every golden-to-golden link. Golden records left without links are deleted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, syncLogs, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer syncLogs()

			conns, err := connect(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer func() { _ = conns.close(ctx) }()

			var publisher events.Publisher
			if cfg.KafkaProducerEnabled {
				producer := kafka.NewProducer(kafka.ProducerConfigFrom(cfg), logger)
				defer func() { _ = producer.Close() }()
				publisher = producer
			}

			services, err := server.NewServices(server.Dependencies{
				Config:    cfg,
				DB:        conns.db,
				Logger:    logger,
				Locker:    conns.locker(cfg, logger),
				Publisher: publisher,
				Graph:     conns.graph,
			})
			if err != nil {
				return err
			}

			// An explicit empty --resource-type is rejected rather than treated as "all".
			var kind *string
			if cmd.Flags().Changed("resource-type") {
				kind = &resourceType
			}

			summary, err := services.Clearer.Clear(ctx, kind)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(summary)
		},
	}

	command.Flags().StringVar(&resourceType, "resource-type", "", "only clear links whose source has this resource type")
	return command
}
