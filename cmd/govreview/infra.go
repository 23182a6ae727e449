package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"govreview/api/internal/config"
	"govreview/api/internal/documents"
	"govreview/api/internal/email"
	"govreview/api/internal/search"
	"govreview/api/internal/session"
	"govreview/api/internal/store"
)

// infra holds the long-lived connections shared by every subcommand.
type infra struct {
	db     *sql.DB
	store  *store.PostgresStore
	redis  *redis.Client
	meili  *search.Meili
	search *search.Service
	docs   *documents.Store
	mailer *email.Service

	closers []func() error
}

func (i *infra) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		_ = i.closers[n]()
	}
}

type infraNeeds struct {
	redis     bool
	search    bool
	documents bool
}

func openInfra(ctx context.Context, cfg config.Config, logger *log.Logger, needs infraNeeds) (*infra, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.OpenOptions{Logger: logger})
	if err != nil {
		return nil, err
	}
	in := &infra{db: db, store: store.NewPostgresStore(db)}
	in.closers = append(in.closers, db.Close)

	if needs.redis && strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := session.Connect(ctx, cfg.RedisURL)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.redis = client
		in.closers = append(in.closers, client.Close)
	}

	if needs.search {
		if strings.TrimSpace(cfg.MeiliURL) != "" {
			in.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
			in.closers = append(in.closers, func() error { in.meili.Close(); return nil })
		}
		in.search = search.NewService(in.meili, search.NewPgFTS(db), logger)
	}

	if needs.documents && strings.TrimSpace(cfg.Minio.Endpoint) != "" {
		docs, err := documents.New(documents.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			in.Close()
			return nil, err
		}
		if err := docs.EnsureBucket(ctx); err != nil {
			logger.Warn("document bucket unavailable", "bucket", cfg.Minio.Bucket, "err", err)
		}
		in.docs = docs
	}

	if cfg.SMTP.Enabled() {
		in.mailer = email.NewService(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		}, email.Mailboxes{
			ITGovernance: cfg.Notify.ITGovernanceEmail,
			ITInvestment: cfg.Notify.ITInvestmentEmail,
		}, cfg.AppBaseURL)
	}
	return in, nil
}

func migrate(ctx context.Context, cfg config.Config, db *sql.DB, logger *log.Logger) error {
	applied, err := store.ApplyMigrationsFS(ctx, db, os.DirFS(cfg.MigrationsDir), logger)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("schema up to date", "applied", len(applied))
	return nil
}

var errSearchDegraded = errors.New("meilisearch unreachable, serving from postgres full-text search")
