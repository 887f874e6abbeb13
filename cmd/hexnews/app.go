package main

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/config"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/database"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/indexer"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/nicknames"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/publisher"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/snapshot"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds the wired components shared by every subcommand.
type application struct {
	config    config.AppConfig
	logger    *zap.Logger
	db        *gorm.DB
	backend   storage.Backend
	metrics   *metrics.Collector
	indexer   *indexer.Service
	publisher *publisher.Publisher
	nicknames *nicknames.Service
}

func bootstrap(ctx context.Context, onRound func(indexer.RoundResult)) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	app := &application{config: appConfig, logger: logger, db: db, metrics: metrics.NewCollector()}

	backend, err := app.openBackend()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.backend = storage.NewInstrumented(backend, app.metrics)

	store, err := indexer.NewSnapshotStore(db, nil)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.indexer, err = indexer.NewService(indexer.ServiceConfig{
		Backend:     app.backend,
		Store:       store,
		RootAddress: appConfig.RootAddress,
		Sync:        app.syncOptions(),
		Retain:      appConfig.SnapshotRetain,
		Observer:    app.metrics,
		OnRound:     onRound,
		IDProvider:  indexer.NewUUIDProvider(),
		Logger:      logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	if err := app.indexer.Restore(ctx); err != nil {
		app.Close()
		return nil, err
	}

	app.publisher = publisher.New(app.backend, publisher.Config{
		FetchBatchSize: appConfig.FetchBatchSize,
		Logger:         logger,
	})
	app.nicknames, err = nicknames.NewService(nicknames.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *application) openBackend() (storage.Backend, error) {
	var backend storage.Backend
	switch app.config.StorageBackend {
	case config.StorageMemory:
		backend = storage.NewMemory()
	case config.StorageHTTP:
		remote, err := storage.NewHTTPBackend(storage.HTTPBackendConfig{
			BaseURL: app.config.StorageURL,
			Timeout: app.config.StorageTimeout,
		})
		if err != nil {
			return nil, err
		}
		backend = remote
	case config.StorageSQLite:
		local, err := storage.NewLogStore(storage.LogStoreConfig{Database: app.db, Logger: app.logger})
		if err != nil {
			return nil, err
		}
		backend = local
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", app.config.StorageBackend)
	}
	if app.config.RetryMax == 0 {
		return backend, nil
	}
	return storage.NewRetrying(backend, storage.RetryingConfig{
		Base:       app.config.RetryBase,
		MaxRetries: uint64(app.config.RetryMax),
		Logger:     app.logger,
	}), nil
}

func (app *application) syncOptions() snapshot.Options {
	return snapshot.Options{
		FetchBatchSize: app.config.FetchBatchSize,
		Concurrency:    app.config.Concurrency,
		Logger:         app.logger,
	}
}

// Close releases the database handle and flushes the logger.
func (app *application) Close() {
	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = app.logger.Sync()
}
