package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/slack-agent/internal/http"
	"github.com/tbourn/slack-agent/internal/slackbot"
)

func socketCmd() *cobra.Command {
	var noHTTP bool
	cmd := &cobra.Command{
		Use:   "socket",
		Short: "Receive Slack events and slash commands over Socket Mode",
		Long: "Connects to Slack over Socket Mode using an app-level token. " +
			"Health, metrics and the inspection API are still served over HTTP unless --no-http is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateSlackSocket(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			api := slack.New(cfg.Slack.BotToken, slack.OptionAppLevelToken(cfg.Slack.AppToken))
			a, err := newApp(ctx, cfg, api)
			if err != nil {
				return err
			}
			defer a.close()

			if !noHTTP {
				// Webhooks stay unmounted: events arrive over the socket.
				go func() {
					if err := runHTTP(ctx, cfg, httpapi.Deps{DB: a.db, BotUserID: a.botUserID}); err != nil {
						log.Error().Err(err).Msg("http server stopped")
						stop()
					}
				}()
			}

			runner := slackbot.NewSocketRunner(api, a.botUserID, a.dispatch)
			return runner.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "do not serve health, metrics and the inspection API")
	return cmd
}
