package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/client"
	"github.com/conarylabs/conary/pkg/jobqueue"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim CAS objects no installed file references any more",
	RunE:  runGC,
}

func runGC(cmd *cobra.Command, args []string) error {
	c, err := client.NewClient(controlAddr(cmd))
	if err != nil {
		return err
	}
	defer c.Close()

	job, err := c.EnqueueJob(context.Background(), jobqueue.KindGarbageCollect, struct{}{})
	if err != nil {
		return err
	}

	finished, err := c.WaitForJob(context.Background(), job.ID, 250*time.Millisecond)
	if err != nil {
		return err
	}
	if finished.Status == jobqueue.StatusFailed {
		return fmt.Errorf("gc job %s failed: %s", finished.ID, finished.Error)
	}

	var result struct {
		ObjectsRemoved int   `json:"objects_removed"`
		BytesFreed     int64 `json:"bytes_freed"`
	}
	if err := json.Unmarshal(finished.Result, &result); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d objects, freed %d bytes\n", result.ObjectsRemoved, result.BytesFreed)
	return nil
}
