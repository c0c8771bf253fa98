package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/venturekit/planner/internal/version"
)

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of planner",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version.Version)
				return
			}
			fmt.Println(version.Info())
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "print the bare version number")
	return cmd
}
