package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "eventbroker (development build)"

func newRootCmd(cfg config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eventbroker",
		Short: "In-process topic broker demonstrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newDemoCmd(cfg))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the eventbroker version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
