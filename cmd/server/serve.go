/*
serve.go - HTTP server wiring

STARTUP SEQUENCE (fx):
  1. config.Load + flag overrides (supplied)
  2. zap logger
  3. SQLite store (migrated on open, closed on stop)
  4. API handler over the store
  5. HTTP server, listening on start

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM the fx app is stopped: the server stops accepting
  connections and drains active requests within SHUTDOWN_TIMEOUT, then
  the database is closed.
*/
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/warp/fuel-ledger/api"
	"github.com/warp/fuel-ledger/config"
	"github.com/warp/fuel-ledger/logging"
	"github.com/warp/fuel-ledger/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newStore,
			newHandler,
			newHTTPServer,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(func(*http.Server) {}),
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stopCancel()
	return app.Stop(stopCtx)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}

func newStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*sqlite.Store, error) {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Info("closing database", zap.String("path", cfg.Database.Path))
			return store.Close()
		},
	})
	return store, nil
}

func newHandler(store *sqlite.Store, logger *zap.Logger) *api.Handler {
	return api.NewHandler(store, logger)
}

func newHTTPServer(lc fx.Lifecycle, cfg *config.Config, h *api.Handler, store *sqlite.Store, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(h, api.RouterOptions{
			AllowedOrigins: cfg.CORSOrigins,
			Health:         store,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("db", cfg.Database.Path))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
