package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/client"
	"github.com/conarylabs/conary/pkg/conaryerr"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check conaryd's readiness, surfacing any crash recovery that needs attention",
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	c, err := client.NewClient(controlAddr(cmd))
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Ready(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for name, result := range status.Checks {
		fmt.Fprintf(out, "%s: %s\n", name, result)
	}

	if status.Status != "ready" {
		if status.Message != "" {
			fmt.Fprintln(out, status.Message)
		}
		return conaryerr.New(conaryerr.KindRecoveryRequired, "conaryd is not ready")
	}

	fmt.Fprintln(out, "ready")
	return nil
}
