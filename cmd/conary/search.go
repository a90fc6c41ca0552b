package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/client"
)

var searchCmd = &cobra.Command{
	Use:   "search <name>",
	Short: "Search installed troves by name",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	c, err := client.NewClient(controlAddr(cmd))
	if err != nil {
		return err
	}
	defer c.Close()

	troves, err := c.ListTroves(context.Background(), args[0])
	if err != nil {
		return err
	}
	if len(troves) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no installed trove matches %q\n", args[0])
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tARCH\tTYPE")
	for _, t := range troves {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Version, t.Architecture, t.Type)
	}
	return tw.Flush()
}
