package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/api"
	"github.com/conarylabs/conary/pkg/client"
	"github.com/conarylabs/conary/pkg/jobqueue"
	"github.com/conarylabs/conary/pkg/txn"
)

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an installed package",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func runRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	c, err := client.NewClient(controlAddr(cmd))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	troves, err := c.ListTroves(ctx, name)
	if err != nil {
		return err
	}
	if len(troves) == 0 {
		return fmt.Errorf("%s is not installed", name)
	}
	trove := troves[0]

	files, err := c.ListTroveFiles(ctx, trove.ID)
	if err != nil {
		return err
	}

	spec := api.RemoveSpec{
		TroveID: trove.ID,
		Package: txn.PackageInfo{
			Name:    trove.Name,
			Version: trove.Version,
			Arch:    trove.Architecture,
		},
	}
	for _, f := range files {
		spec.FilesToRemove = append(spec.FilesToRemove, api.RemoveFileEntry{
			Path: f.Path, Hash: f.SHA256Hash, Size: f.Size, Mode: f.Permissions,
		})
	}

	job, err := c.EnqueueJob(ctx, jobqueue.KindRemove, spec)
	if err != nil {
		return err
	}
	return waitAndReport(cmd, c, job)
}
