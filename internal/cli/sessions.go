package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/venturekit/planner/internal/config"
	"github.com/venturekit/planner/internal/store"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect archived planning sessions",
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	return cmd
}

func openArchive() (*store.SessionArchive, func(), error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(paths.DatabasePath(cfg.Storage), log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return store.NewSessionArchive(db), func() { db.Close() }, nil
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, closeDB, err := openArchive()
			if err != nil {
				return err
			}
			defer closeDB()

			sessions := archive.ListSessions()
			if len(sessions) == 0 {
				fmt.Println("No archived sessions.")
				return nil
			}

			for _, s := range sessions {
				remote := s.RemoteID
				if remote == "" {
					remote = "(not created)"
				}
				fmt.Printf("%s  %-20s  %s  updated %s\n",
					s.ID, s.Context.BusinessType, remote, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the archived message log of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, closeDB, err := openArchive()
			if err != nil {
				return err
			}
			defer closeDB()

			sess := archive.GetSession(args[0])
			if sess == nil {
				return fmt.Errorf("session %q not found", args[0])
			}

			fmt.Printf("Session %s — %s / %s\n", sess.ID, sess.Context.BusinessType, sess.Context.TargetMarket)
			if sess.Context.Challenge != "" {
				fmt.Printf("Challenge: %s\n", sess.Context.Challenge)
			}
			fmt.Println()

			for _, m := range archive.History(sess.ID) {
				marker := ""
				if m.Status != "sent" {
					marker = fmt.Sprintf(" [%s]", m.Status)
				}
				fmt.Printf("%s %s%s: %s\n", m.CreatedAt.Format("15:04"), m.Role, marker, m.Content)
			}
			return nil
		},
	}
}
