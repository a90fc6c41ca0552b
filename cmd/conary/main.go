package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/pkg/conaryerr"
	"github.com/conarylabs/conary/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(conaryerr.ExitCode(err))
}

var rootCmd = &cobra.Command{
	Use:   "conary",
	Short: "Conary - a transactional system package manager",
	Long: `Conary installs, updates, and removes packages through a
crash-safe transaction engine: every operation either lands completely or
leaves the system exactly as it found it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"conary version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("root", "", "Filesystem root (default: $CONARY_ROOT or /)")
	rootCmd.PersistentFlags().String("db-root", "", "Metadata/CAS root (default: $CONARY_DB_ROOT or /var/lib/conary)")
	rootCmd.PersistentFlags().String("config", "", "Path to a conary.yaml config file")
	rootCmd.PersistentFlags().String("socket", "", "conaryd control socket, e.g. unix:///run/conaryd.sock")
	rootCmd.PersistentFlags().String("addr", "127.0.0.1:7726", "conaryd control address, used when --socket is not set")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(gcCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
