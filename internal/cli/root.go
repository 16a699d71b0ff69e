// Package cli implements the inbox command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/inbox/common/logging"
	"github.com/telhawk-systems/inbox/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	cfgErr  error
	logger  *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Messaging webhook ingestion and conversation inbox",
	Long: `inbox ingests WhatsApp-style webhook payloads into a conversation store
and serves the conversation list and message history over HTTP.

Configuration is read from config.yaml (or --config), .env and INBOX_*
environment variables.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgErr != nil {
			return fmt.Errorf("load config: %w", cfgErr)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/inbox/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level")
}

func initConfig() {
	cfg, cfgErr = config.Load(cfgFile)
	if cfgErr != nil {
		return
	}
	if lvl, _ := rootCmd.PersistentFlags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	// stdout is reserved for command output.
	logger = logging.NewWithWriter(os.Stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)
}
