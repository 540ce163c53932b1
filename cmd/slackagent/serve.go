package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/tbourn/slack-agent/internal/config"
	httpapi "github.com/tbourn/slack-agent/internal/http"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive Slack events and slash commands over HTTP webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateSlackHTTP(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, slack.New(cfg.Slack.BotToken))
			if err != nil {
				return err
			}
			defer a.close()

			return runHTTP(ctx, cfg, httpapi.Deps{
				DB:        a.db,
				Dispatch:  a.dispatch,
				BotUserID: a.botUserID,
			})
		},
	}
}

func newEngine(cfg config.Config, deps httpapi.Deps) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)
	return r
}

// runHTTP serves until ctx is cancelled, then shuts the server down
// gracefully.
func runHTTP(ctx context.Context, cfg config.Config, deps httpapi.Deps) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           newEngine(cfg, deps),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Bool("slack_webhooks", deps.Dispatch != nil).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
