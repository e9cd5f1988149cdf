package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/V4T54L/auditd-ingest/internal/adapter/repository/quarantine"
	"github.com/V4T54L/auditd-ingest/internal/domain"
	"github.com/V4T54L/auditd-ingest/internal/pkg/logger"
)

var purgeQuarantine bool

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Print quarantined malformed events as JSON lines.",
	Long: `Prints every event held in QUARANTINE_PATH, oldest first, one JSON object
per line. With --purge the quarantine is emptied after it has been printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		if cfg.QuarantinePath == "" {
			return fmt.Errorf("QUARANTINE_PATH is not set")
		}

		log := logger.NewWithWriter(os.Stderr, cfg.LogLevel)
		q, err := quarantine.NewRepository(cfg.QuarantinePath, cfg.QuarantineSegmentSize, cfg.QuarantineMaxDiskSize, log)
		if err != nil {
			return err
		}
		defer q.Close()

		ctx := cmd.Context()
		enc := json.NewEncoder(cmd.OutOrStdout())
		count := 0
		err = q.Replay(ctx, func(event domain.QuarantinedEvent) error {
			count++
			return enc.Encode(event)
		})
		if err != nil {
			return err
		}

		if purgeQuarantine {
			if err := q.Truncate(ctx); err != nil {
				return err
			}
			log.Info("quarantine purged", "events", count)
		}
		return nil
	},
}

func init() {
	quarantineCmd.Flags().BoolVar(&purgeQuarantine, "purge", false, "remove all quarantined events after printing them")
}
