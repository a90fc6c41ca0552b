package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/client"
)

var queryCmd = &cobra.Command{
	Use:   "query <name>",
	Short: "Show detailed metadata for an installed trove, including its files",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	c, err := client.NewClient(controlAddr(cmd))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	troves, err := c.ListTroves(ctx, args[0])
	if err != nil {
		return err
	}
	if len(troves) == 0 {
		return fmt.Errorf("%s is not installed", args[0])
	}

	out := cmd.OutOrStdout()
	for _, t := range troves {
		fmt.Fprintf(out, "%s %s (%s, %s)\n", t.Name, t.Version, t.Architecture, t.Type)
		if t.Description != "" {
			fmt.Fprintf(out, "  %s\n", t.Description)
		}
		fmt.Fprintf(out, "  installed: %s\n", t.InstalledAt)

		files, err := c.ListTroveFiles(ctx, t.ID)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintf(out, "  %s\n", f.Path)
		}
	}
	return nil
}
