package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
	repo "github.com/joseph-ayodele/docflow/internal/repository"
)

// ConnectDB opens the record store described by cfg.
func ConnectDB(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (*repo.SQLStore, error) {
	logger.Info("connecting to record store", "dialect", repo.DialectFor(cfg.DSN))
	store, err := repo.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to record store", "error", err)
		return nil, err
	}

	logger.Info("successfully connected to record store")
	return store, nil
}

// PingDB pings the store to ensure it's responsive
func PingDB(ctx context.Context, store repo.RecordStore, logger *slog.Logger, timeout time.Duration) error {
	logger.Debug("pinging record store")
	err := repo.HealthCheck(ctx, store, timeout, logger)
	if err != nil {
		logger.Error("record store ping failed", "error", err)
		return err
	}
	logger.Debug("record store ping successful")
	return nil
}

// CloseDB closes the store gracefully
func CloseDB(store *repo.SQLStore, logger *slog.Logger) {
	logger.Info("closing record store")
	if store != nil {
		store.Close()
	}
	logger.Info("record store closed")
}
