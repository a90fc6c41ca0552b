package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/api"
	"github.com/conarylabs/conary/pkg/client"
	"github.com/conarylabs/conary/pkg/collaborator"
	"github.com/conarylabs/conary/pkg/jobqueue"
)

var updateCmd = &cobra.Command{
	Use:   "update <manifest.json>",
	Short: "Update an installed package to the version described by manifest.json",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) error {
	newPkg, err := loadManifest(args[0])
	if err != nil {
		return err
	}
	meta := newPkg.Metadata()

	c, err := client.NewClient(controlAddr(cmd))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	troves, err := c.ListTroves(ctx, meta.Name)
	if err != nil {
		return err
	}
	if len(troves) == 0 {
		return fmt.Errorf("%s is not installed; use install instead", meta.Name)
	}
	installed := troves[0]

	oldFiles, err := c.ListTroveFiles(ctx, installed.ID)
	if err != nil {
		return err
	}
	oldPkg := collaborator.NewFake(collaborator.Metadata{
		Name:         installed.Name,
		Version:      installed.Version,
		Architecture: installed.Architecture,
	})
	for _, f := range oldFiles {
		oldPkg.FilesList = append(oldPkg.FilesList, collaborator.File{
			Path: f.Path, Size: f.Size, Mode: f.Permissions, SHA256: f.SHA256Hash,
		})
	}

	ops, err := collaborator.ToUpgradeOperations(oldPkg, newPkg)
	if err != nil {
		return err
	}

	job, err := c.EnqueueJob(ctx, jobqueue.KindUpdate, api.InstallSpec{Operations: ops})
	if err != nil {
		return err
	}
	return waitAndReport(cmd, c, job)
}
