package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/venturekit/planner/internal/chat"
	"github.com/venturekit/planner/internal/config"
	"github.com/venturekit/planner/internal/domain"
	"github.com/venturekit/planner/internal/store"
	"github.com/venturekit/planner/internal/transport"
	"github.com/venturekit/planner/internal/usage"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the planner from the terminal",
	}

	cmd.AddCommand(newChatSendCmd())
	return cmd
}

func newChatSendCmd() *cobra.Command {
	var (
		businessType string
		targetMarket string
		challenge    string
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message in a fresh planning session and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")

			cfg, err := config.Load(paths.Config)
			if err != nil {
				cfg = config.Defaults()
			}
			if cfg.Backend.BaseURL == "" {
				return fmt.Errorf("backend.baseUrl is not configured (run: planner config set backend.baseUrl <url>)")
			}

			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			db, err := store.Open(paths.DatabasePath(cfg.Storage), log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			backendTimeout := time.Duration(cfg.Backend.TimeoutSec) * time.Second
			backend := transport.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, backendTimeout)
			usageReader := usage.NewHTTPReader(cfg.Backend.BaseURL, cfg.Backend.APIKey, backendTimeout)

			notify := func(e chat.Event) {
				switch e.Type {
				case chat.EventWaitExceeded:
					fmt.Fprintln(cmd.ErrOrStderr(), "(still working, this is taking longer than usual)")
				case chat.EventCreationUpdated:
					if e.Creation != nil && e.Creation.Status == domain.CreationInProgress {
						fmt.Fprintln(cmd.ErrOrStderr(), "(creating session)")
					}
				}
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
			}, backend, usageReader, store.NewSessionArchive(db), notify, log)

			coord.OpenSession(domain.BusinessContext{
				BusinessType: businessType,
				TargetMarket: targetMarket,
				Challenge:    challenge,
				CreatedAt:    time.Now(),
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := coord.SendMessage(ctx, message); err != nil {
				return err
			}

			for _, m := range coord.Messages() {
				if m.Role == domain.RoleAssistant && m.Status == domain.StatusSent {
					fmt.Println(m.Content)
				}
			}

			u := coord.Usage()
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[free=%d/%d subscription=%s]\n",
				u.FreeUsed, cfg.Chat.FreeLimit, u.Subscription)
			return nil
		},
	}

	cmd.Flags().StringVar(&businessType, "business-type", "general", "kind of business being planned")
	cmd.Flags().StringVar(&targetMarket, "target-market", "", "target market for the plan")
	cmd.Flags().StringVar(&challenge, "challenge", "", "main challenge to focus on")

	return cmd
}
