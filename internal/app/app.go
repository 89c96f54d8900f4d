// Package app initializes and runs the bot service. It configures
// logging, storage, the VK client, the statistics cache, the
// conversation engine and the chat gateway, and handles graceful
// shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patric-chuzhbe/vkccbot/internal/config"
	"github.com/patric-chuzhbe/vkccbot/internal/db/memorystorage"
	"github.com/patric-chuzhbe/vkccbot/internal/db/postgresdb"
	"github.com/patric-chuzhbe/vkccbot/internal/db/sqlitedb"
	"github.com/patric-chuzhbe/vkccbot/internal/engine"
	"github.com/patric-chuzhbe/vkccbot/internal/ipchecker"
	"github.com/patric-chuzhbe/vkccbot/internal/logger"
	"github.com/patric-chuzhbe/vkccbot/internal/models"
	"github.com/patric-chuzhbe/vkccbot/internal/router"
	"github.com/patric-chuzhbe/vkccbot/internal/shortener"
	"github.com/patric-chuzhbe/vkccbot/internal/statscache"
	"github.com/patric-chuzhbe/vkccbot/internal/storage"
	"github.com/patric-chuzhbe/vkccbot/internal/telegram"
	"github.com/patric-chuzhbe/vkccbot/internal/titlefetcher"
)

// App encapsulates the configuration, storage backend, chat gateway and
// background services needed to run the bot.
type App struct {
	cfg     *config.Config
	db      storage.Storage
	cache   *statscache.Cache
	gateway *telegram.Gateway
	debug   *http.Server
}

// New initializes a new instance of App by:
// - loading configuration
// - initializing logger
// - selecting and setting up storage
// - wiring the VK client, statistics cache and conversation engine
// - setting up the chat gateway and the optional debug server
func New() (*App, error) {
	var err error
	app := &App{}

	app.cfg, err = config.New()
	if err != nil {
		return nil, err
	}

	err = logger.Init(app.cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	app.db, err = getStorageByType(app.cfg)
	if err != nil {
		return nil, err
	}

	vkClient := shortener.New(app.cfg.VKToken)
	app.cache = statscache.New(vkClient, app.cfg.StatsCacheTTL)

	botClient := telegram.NewClient(app.cfg.BotToken)

	conversations := engine.New(
		app.db,
		vkClient,
		app.cache,
		engine.WithCityNamer(vkClient),
		engine.WithTitleSuggester(titlefetcher.New()),
		engine.WithBusyIndicator(telegram.NewBusyNotifier(botClient)),
	)

	app.gateway = telegram.NewGateway(botClient, conversations, app.cfg.PollTimeout)

	if app.cfg.DebugAddr != "" {
		checker, err := ipchecker.New(app.cfg.TrustedSubnet)
		if err != nil {
			return nil, err
		}
		app.debug = &http.Server{
			Addr:    app.cfg.DebugAddr,
			Handler: router.New(app.db, app.cache, checker),
		}
	}

	return app, nil
}

// Run starts the update polling loop (and the debug server when
// configured) with graceful shutdown support. It listens for system
// signals and cleans up resources upon termination.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.cache.RunJanitor(ctx, a.cfg.StatsCacheSweep)

	debugErrCh := make(chan error, 1)
	if a.debug != nil {
		logger.Log.Infow("debug server running", "addr", a.debug.Addr)
		go func() {
			debugErrCh <- a.debug.ListenAndServe()
		}()
	}

	gatewayErrCh := make(chan error, 1)
	go func() {
		gatewayErrCh <- a.gateway.Run(ctx)
	}()

	logger.Log.Infoln("bot running, polling for updates")

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Closing storage and exiting...")
		if a.debug != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.debug.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("debug server shutdown error: %w", err)
			}
		}
		<-gatewayErrCh

		return a.db.Close()

	case err := <-gatewayErrCh:
		return fmt.Errorf("chat gateway error: %w", err)

	case err := <-debugErrCh:
		return fmt.Errorf("debug server error: %w", err)
	}
}

// Close finalizes resources used by App such as logging.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.DatabaseDSN != "" {
		return models.StorageTypePostgresql
	}

	if cfg.DBFileName != "" {
		return models.StorageTypeSqlite
	}

	return models.StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (storage.Storage, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypeUnknown:
		return nil, errors.New("unknown storage type")

	case models.StorageTypePostgresql:
		return postgresdb.New(
			context.Background(),
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
			cfg.MigrationsDir,
		)

	case models.StorageTypeSqlite:
		return sqlitedb.New(context.Background(), cfg.DBFileName)
	}

	return memorystorage.New()
}
