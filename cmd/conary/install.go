package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/api"
	"github.com/conarylabs/conary/pkg/client"
	"github.com/conarylabs/conary/pkg/collaborator"
	"github.com/conarylabs/conary/pkg/jobqueue"
)

var installCmd = &cobra.Command{
	Use:   "install <manifest.json>",
	Short: "Install a package",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	pkg, err := loadManifest(args[0])
	if err != nil {
		return err
	}

	ops, err := collaborator.ToOperations(pkg)
	if err != nil {
		return err
	}

	c, err := client.NewClient(controlAddr(cmd))
	if err != nil {
		return err
	}
	defer c.Close()

	job, err := c.EnqueueJob(context.Background(), jobqueue.KindInstall, api.InstallSpec{Operations: ops})
	if err != nil {
		return err
	}

	return waitAndReport(cmd, c, job)
}

func waitAndReport(cmd *cobra.Command, c *client.Client, job *jobqueue.Job) error {
	finished, err := c.WaitForJob(context.Background(), job.ID, 250*time.Millisecond)
	if err != nil {
		return err
	}

	switch finished.Status {
	case jobqueue.StatusCompleted:
		fmt.Fprintf(cmd.OutOrStdout(), "%s: done\n", finished.ID)
		return nil
	case jobqueue.StatusFailed:
		return fmt.Errorf("job %s failed: %s", finished.ID, finished.Error)
	default:
		return fmt.Errorf("job %s ended in unexpected state %s", finished.ID, finished.Status)
	}
}
