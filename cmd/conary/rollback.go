package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/api"
	"github.com/conarylabs/conary/pkg/client"
	"github.com/conarylabs/conary/pkg/collaborator"
	"github.com/conarylabs/conary/pkg/jobqueue"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <current-manifest.json> <previous-manifest.json>",
	Short: "Revert an installed package to a previous version",
	Long: `rollback runs the transaction engine's install pipeline with the
currently-installed package as the old side and the target manifest as the
new side, the same machinery update uses in reverse.`,
	Args: cobra.ExactArgs(2),
	RunE: runRollback,
}

func runRollback(cmd *cobra.Command, args []string) error {
	currentPkg, err := loadManifest(args[0])
	if err != nil {
		return err
	}
	previousPkg, err := loadManifest(args[1])
	if err != nil {
		return err
	}

	ops, err := collaborator.ToUpgradeOperations(currentPkg, previousPkg)
	if err != nil {
		return err
	}

	c, err := client.NewClient(controlAddr(cmd))
	if err != nil {
		return err
	}
	defer c.Close()

	job, err := c.EnqueueJob(context.Background(), jobqueue.KindRollback, api.InstallSpec{Operations: ops})
	if err != nil {
		return err
	}
	return waitAndReport(cmd, c, job)
}
