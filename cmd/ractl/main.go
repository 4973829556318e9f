package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carlziess/ra/pkg/config"
	"github.com/carlziess/ra/pkg/log"
)

var (
	version = "dev"

	cfg = config.Default()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ractl",
	Short:   "Inspect and maintain ra snapshot directories",
	Version: version,
	Long: `ractl is a maintenance tool for the on-disk snapshot layout of ra.

It lists snapshot directories, prints and verifies their metadata, and
prunes everything but the newest valid snapshot. It operates directly on
the filesystem and must not run against a directory owned by a live
participant.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a ra config file")
	rootCmd.PersistentFlags().String("backend", "", "Snapshot backend (file or bolt, overrides config)")

	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(metaCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(pruneCmd)
}

func initConfig() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	if path == "" {
		return
	}

	loaded, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg = loaded
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
