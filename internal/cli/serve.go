package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/venturekit/planner/internal/chat"
	"github.com/venturekit/planner/internal/config"
	"github.com/venturekit/planner/internal/gateway"
	"github.com/venturekit/planner/internal/store"
	"github.com/venturekit/planner/internal/transport"
	"github.com/venturekit/planner/internal/usage"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the planner gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			db, err := store.Open(paths.DatabasePath(cfg.Storage), log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			archive := store.NewSessionArchive(db)

			backendTimeout := time.Duration(cfg.Backend.TimeoutSec) * time.Second
			backend := transport.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, backendTimeout)
			usageReader := usage.NewHTTPReader(cfg.Backend.BaseURL, cfg.Backend.APIKey, backendTimeout)

			// The registry exists before the coordinator so coordinator
			// events can be pushed to connected clients.
			clients := gateway.NewClientRegistry(log.Sub("clients"))
			notify := func(e chat.Event) {
				clients.Broadcast(string(e.Type), e)
			}

			coord := chat.New(chat.Config{
				Limits: chat.Limits{
					FreeLimit: cfg.Chat.FreeLimit,
					PaidLimit: cfg.Chat.PaidLimit,
				},
				SendAttempts:   cfg.Chat.SendAttempts,
				CreateAttempts: cfg.Chat.CreateAttempts,
				BackoffBase:    time.Duration(cfg.Chat.BackoffBaseMs) * time.Millisecond,
				BackoffCap:     time.Duration(cfg.Chat.BackoffCapMs) * time.Millisecond,
				EstimatedWait:  time.Duration(cfg.Chat.EstimatedWaitSec) * time.Second,
			}, backend, usageReader, archive, notify, log)

			srv := gateway.New(cfg, coord, log,
				gateway.WithRegistry(clients),
				gateway.WithArchive(archive),
			)

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}
