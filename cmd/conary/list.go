package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/client"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed troves",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := client.NewClient(controlAddr(cmd))
	if err != nil {
		return err
	}
	defer c.Close()

	troves, err := c.ListTroves(context.Background(), "")
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tARCH\tTYPE")
	for _, t := range troves {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Version, t.Architecture, t.Type)
	}
	return tw.Flush()
}
