package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/conaryerr"
	"github.com/conarylabs/conary/pkg/resolver"
	"github.com/conarylabs/conary/pkg/storage"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Check the currently-installed dependency graph for conflicts",
	Long: `resolve loads every installed trove and its declared dependencies
and reports any missing dependency, version conflict, or cycle, without
changing anything. A CLI tool reads the metadata store directly for this:
there is no mutation involved, so it does not need to go through conaryd.`,
	RunE: runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStore(cfg.DBRoot)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	r, err := resolver.New(ctx, storage.NewResolverSource(store))
	if err != nil {
		return err
	}

	plan, err := r.Resolve()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if plan.OK() {
		fmt.Fprintf(out, "%d packages, no conflicts\n", len(plan.InstallOrder))
		return nil
	}

	for _, m := range plan.Missing {
		fmt.Fprintf(out, "missing: %s %s required by %v\n", m.Name, m.Constraint.String(), m.RequiredBy)
	}
	for _, c := range plan.Conflicts {
		fmt.Fprintln(out, c.String())
	}
	return conaryerr.New(conaryerr.KindConflict, "dependency graph has unresolved conflicts")
}
