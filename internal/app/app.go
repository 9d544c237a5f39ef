// Package app initializes and runs the location management service.
// It configures logging, storage, authentication, and routing,
// and handles graceful shutdown.
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

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/geoplaces/internal/archivestore"
	"github.com/patric-chuzhbe/geoplaces/internal/auth"
	"github.com/patric-chuzhbe/geoplaces/internal/config"
	"github.com/patric-chuzhbe/geoplaces/internal/db/jsondb"
	"github.com/patric-chuzhbe/geoplaces/internal/db/memorystorage"
	"github.com/patric-chuzhbe/geoplaces/internal/db/postgresdb"
	"github.com/patric-chuzhbe/geoplaces/internal/ipchecker"
	"github.com/patric-chuzhbe/geoplaces/internal/logger"
	"github.com/patric-chuzhbe/geoplaces/internal/models"
	"github.com/patric-chuzhbe/geoplaces/internal/router"
	"github.com/patric-chuzhbe/geoplaces/internal/service"
	"github.com/patric-chuzhbe/geoplaces/internal/tokensweeper"
	"github.com/patric-chuzhbe/geoplaces/internal/user"
)

const (
	shutdownTimeout = 10 * time.Second

	sweeperErrorChannelCapacity = 16
)

type userKeeper interface {
	CreateUser(ctx context.Context, usr *user.User) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
	GetUserByID(ctx context.Context, userID int64) (*user.User, error)
}

type locationsKeeper interface {
	CreateLocation(ctx context.Context, location *models.Location) (*models.Location, error)
	GetUserLocations(ctx context.Context, userID int64) (models.Locations, error)
	GetUserLocation(ctx context.Context, userID, locationID int64) (*models.Location, error)
	UpdateUserLocation(ctx context.Context, location *models.Location) (*models.Location, error)
	DeleteUserLocation(ctx context.Context, userID, locationID int64) error
	InsertLocations(ctx context.Context, locations models.Locations) (int64, error)
}

type revokedTokensKeeper interface {
	RevokeToken(ctx context.Context, token models.RevokedToken) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
	PurgeExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

type statsKeeper interface {
	GetNumberOfUsers(ctx context.Context) (int64, error)
	GetNumberOfLocations(ctx context.Context) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type storage interface {
	userKeeper
	locationsKeeper
	revokedTokensKeeper
	statsKeeper
	pinger
	Close() error
}

// App encapsulates the configuration, HTTP handler, storage backend,
// and the background token sweeper.
type App struct {
	cfg          *config.Config
	db           storage
	tokenSweeper *tokensweeper.TokenSweeper
	stopSweeper  context.CancelFunc
	httpHandler  http.Handler
}

// New initializes a new instance of App by:
// - loading configuration
// - initializing logger
// - selecting and setting up storage
// - setting up archive retention when a bucket is configured
// - starting the revoked-token sweeper
// - setting up the router and middleware
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

	serviceOptions := []service.Option{
		service.WithMaxUploadSize(app.cfg.MaxUploadSize),
		service.WithMaxContentSize(app.cfg.MaxContentSize),
	}
	if app.cfg.ArchiveEnabled() {
		archives, err := archivestore.New(context.Background(), archivestore.Settings{
			Bucket:    app.cfg.ArchiveBucket,
			Region:    app.cfg.ArchiveRegion,
			Endpoint:  app.cfg.ArchiveEndpoint,
			AccessKey: app.cfg.ArchiveAccessKey,
			SecretKey: app.cfg.ArchiveSecretKey,
		})
		if err != nil {
			_ = app.db.Close()
			return nil, err
		}
		serviceOptions = append(serviceOptions, service.WithArchiveKeeper(archives))
		logger.Log.Infow("Archive retention enabled", "bucket", app.cfg.ArchiveBucket)
	}

	subnetGuard, err := ipchecker.New(app.cfg.TrustedSubnet)
	if err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if subnetGuard.IsTrustedSubnetEmpty() {
		logger.Log.Infoln("TRUSTED_SUBNET is empty, /internal/stats will answer 403 to everyone")
	}

	app.tokenSweeper = tokensweeper.New(app.db, app.cfg.RevokedTokensSweepInterval, sweeperErrorChannelCapacity)
	sweeperRunCtx, stopSweeper := context.WithCancel(context.Background())
	app.stopSweeper = stopSweeper

	app.tokenSweeper.Run(sweeperRunCtx)
	app.tokenSweeper.ListenErrors(func(err error) {
		logger.Log.Warnw("Error passed from the `app.tokenSweeper.ListenErrors()`", zap.Error(err))
	})

	app.httpHandler = router.New(
		service.New(app.db, serviceOptions...),
		auth.New(
			app.db,
			app.cfg.AuthCookieName,
			[]byte(app.cfg.AuthCookieSigningSecretKey),
			app.cfg.SessionTTL,
			auth.WithSecureCookie(app.cfg.SecureCookie),
		),
		subnetGuard,
	)

	return app, nil
}

// Run starts the HTTP server with graceful shutdown support.
// It listens for system signals and cleans up resources upon termination.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Infow("server running", "RunAddr", a.cfg.RunAddr)

	server := &http.Server{
		Addr:              a.cfg.RunAddr,
		Handler:           a.httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Saving database and exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := server.Shutdown(shutdownCtx)
		releaseErr := a.release()
		if shutdownErr != nil {
			return fmt.Errorf("server shutdown error: %w", shutdownErr)
		}

		return releaseErr

	case err := <-serverErrCh:
		releaseErr := a.release()
		if errors.Is(err, http.ErrServerClosed) {
			return releaseErr
		}

		return fmt.Errorf("server error: %w", err)
	}
}

// release stops the token sweeper, waits for its loop to exit and only then
// closes the storage it works on.
func (a *App) release() error {
	a.stopSweeper()
	<-a.tokenSweeper.Done()

	return a.db.Close()
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
		return models.StorageTypeFile
	}

	return models.StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (storage, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypePostgresql:
		return postgresdb.New(
			context.Background(),
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
		)

	case models.StorageTypeFile:
		return jsondb.New(cfg.DBFileName)
	}

	return memorystorage.New()
}
