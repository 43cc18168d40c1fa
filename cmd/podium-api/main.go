package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/podiumlabs/podium/internal/auth"
	"github.com/podiumlabs/podium/internal/config"
	"github.com/podiumlabs/podium/internal/logging"
	"github.com/podiumlabs/podium/internal/room"
	"github.com/podiumlabs/podium/internal/server"
	"github.com/podiumlabs/podium/internal/store"
)

const reapInterval = time.Hour

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "podium-api",
		Short: "Podium presentation session backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("room-name", defaults.GetString("room.name"), "Room served by this instance")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("session-cookie-name", defaults.GetString("session.cookie_name"), "Presenter session cookie name")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("presenter-password-hash", "", "Bcrypt hash of the presenter password (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "room.name", "room-name")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.cookie_name", "session-cookie-name")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "presenter.password_hash", "presenter-password-hash")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := store.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	connections := store.NewConnectionStore(db)
	polls := store.NewPollStore(db)
	peers := server.NewPeerTable()

	registry, err := room.NewRegistry(room.RegistryConfig{
		Connections:   connections,
		ConnectionTTL: appConfig.ConnectionTTL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	fanout, err := room.NewFanout(room.FanoutConfig{
		Connections: connections,
		Transport:   peers,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	engine, err := room.NewEngine(room.EngineConfig{
		Polls:     polls,
		Registry:  registry,
		Fanout:    fanout,
		Transport: peers,
		PollTTL:   appConfig.PollTTL,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	relay, err := room.NewRelay(room.RelayConfig{
		Registry:  registry,
		Fanout:    fanout,
		Transport: peers,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	dispatcher, err := room.NewDispatcher(room.DispatcherConfig{
		Room:     appConfig.RoomName,
		Registry: registry,
		Engine:   engine,
		Relay:    relay,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	passwords, err := auth.NewPasswordVerifier(appConfig.PresenterPasswordHash)
	if err != nil {
		return err
	}

	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		SessionTTL:    appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Dispatcher:       dispatcher,
		SessionValidator: validator,
		SessionIssuer:    issuer,
		Passwords:        passwords,
		Peers:            peers,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runReaper(signalCtx, connections, polls, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("room", appConfig.RoomName))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runReaper periodically deletes expired connection and poll rows. Stale
// socket entries are also cleaned inline by broadcast; this sweep covers rows
// that never see another broadcast.
func runReaper(ctx context.Context, connections *store.ConnectionStore, polls *store.PollStore, logger *zap.Logger) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().Unix()
			if purged, err := connections.PurgeExpired(ctx, now); err != nil {
				logger.Warn("connection purge failed", zap.Error(err))
			} else if purged > 0 {
				logger.Info("purged expired connections", zap.Int64("count", purged))
			}
			if purged, err := polls.PurgeExpired(ctx, now); err != nil {
				logger.Warn("poll purge failed", zap.Error(err))
			} else if purged > 0 {
				logger.Info("purged expired poll rows", zap.Int64("count", purged))
			}
		}
	}
}
