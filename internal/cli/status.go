package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/venturekit/planner/internal/config"
	"github.com/venturekit/planner/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show planner status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Planner %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("Config:  not found (using defaults)")
				} else {
					fmt.Printf("Config:  error loading: %v\n", err)
				}
				return nil
			}

			backend := cfg.Backend.BaseURL
			if backend == "" {
				backend = "(not configured)"
			}
			fmt.Printf("Backend: %s timeout=%ds\n", backend, cfg.Backend.TimeoutSec)
			fmt.Printf("Gateway: port=%d bind=%s auth=%s\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode)
			fmt.Printf("Chat:    free=%d paid=%d sendAttempts=%d createAttempts=%d\n",
				cfg.Chat.FreeLimit, cfg.Chat.PaidLimit, cfg.Chat.SendAttempts, cfg.Chat.CreateAttempts)
			fmt.Printf("Storage: %s\n", paths.DatabasePath(cfg.Storage))

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}
}
