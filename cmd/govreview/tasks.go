package main

import (
	"errors"

	"github.com/spf13/cobra"

	"govreview/api/internal/alerts"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInfra(cmd.Context(), opts.cfg, opts.logger, infraNeeds{})
			if err != nil {
				return err
			}
			defer in.Close()
			return migrate(cmd.Context(), opts.cfg, in.db, opts.logger)
		},
	}
}

func newReindexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every intake, note, and action from Postgres into Meilisearch",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInfra(cmd.Context(), opts.cfg, opts.logger, infraNeeds{search: true})
			if err != nil {
				return err
			}
			defer in.Close()
			if in.meili == nil {
				return errors.New("meili_url is not configured")
			}
			count, err := in.search.ReindexAllFromPG(cmd.Context())
			if err != nil {
				return err
			}
			opts.logger.Info("reindex complete", "records", count)
			return nil
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-lcids",
		Short: "Send expiration alerts for LCIDs inside the alert window once",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInfra(cmd.Context(), opts.cfg, opts.logger, infraNeeds{})
			if err != nil {
				return err
			}
			defer in.Close()
			if in.mailer == nil {
				return errors.New("smtp is not configured")
			}
			result, err := alerts.NewSweeper(in.store, in.mailer, opts.logger, opts.cfg.LCID.AlertWindow).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			opts.logger.Info("lcid sweep complete", "found", result.Found, "claimed", result.Claimed, "sent", result.Sent, "failed", result.Failed)
			return nil
		},
	}
}
