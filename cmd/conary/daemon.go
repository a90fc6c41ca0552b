package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/api"
	"github.com/conarylabs/conary/pkg/jobqueue"
	"github.com/conarylabs/conary/pkg/log"
	"github.com/conarylabs/conary/pkg/metrics"
	"github.com/conarylabs/conary/pkg/storage"
	"github.com/conarylabs/conary/pkg/txn"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run conaryd, the transaction daemon",
	Long: `daemon starts conaryd: it recovers any journal left by a previous
crash, then serves the HTTP control surface other conary sub-commands talk
to (install, remove, update, rollback and gc enqueue jobs here; list,
search and query read installed troves through it).`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := log.WithComponent("daemon")

	if err := os.MkdirAll(cfg.DBRoot, 0o755); err != nil {
		return err
	}

	store, err := storage.NewSQLiteStore(cfg.DBRoot)
	if err != nil {
		return err
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "opened")

	engine, err := txn.New(txn.NewConfig(cfg.Root, filepath.Join(cfg.DBRoot, "conary.db")), store)
	if err != nil {
		return err
	}
	metrics.RegisterComponent("journal", true, "ready")

	queue, err := jobqueue.Open(cfg.DBRoot)
	if err != nil {
		return err
	}
	defer queue.Close()
	metrics.RegisterComponent("jobqueue", true, "ready")

	collector := metrics.NewCollector(store, engine.CAS())
	collector.Start()
	defer collector.Stop()
	metrics.SetVersion(Version)

	server := api.NewServer(engine, store, queue)

	listen := cfg.Listen
	if listen == "" {
		listen = controlAddr(cmd)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(listen)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Stop(ctx)
}
