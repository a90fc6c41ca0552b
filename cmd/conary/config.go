package main

import (
	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/config"
)

// loadConfig builds this invocation's Config from --config, then overlays
// --root/--db-root so a one-off flag always wins over both the file and the
// environment.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	if root, _ := cmd.Flags().GetString("root"); root != "" {
		cfg.Root = root
	}
	if dbRoot, _ := cmd.Flags().GetString("db-root"); dbRoot != "" {
		cfg.DBRoot = dbRoot
	}
	return cfg, nil
}

// controlAddr returns the conaryd address to dial: --socket takes
// precedence over --addr.
func controlAddr(cmd *cobra.Command) string {
	if socket, _ := cmd.Flags().GetString("socket"); socket != "" {
		return socket
	}
	addr, _ := cmd.Flags().GetString("addr")
	return addr
}
