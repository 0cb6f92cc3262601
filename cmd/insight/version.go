package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spektr-org/insight"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of insight",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "insight version %s\n", insight.Version)
		},
	}
}
