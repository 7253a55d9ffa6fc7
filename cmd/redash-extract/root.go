package main

import (
	"fmt"

	"github.com/Sternrassler/redash-extract/internal/config"
	"github.com/Sternrassler/redash-extract/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// cli holds the state shared by the subcommands.
type cli struct {
	configFile string
	envFiles   []string

	cfg      *config.Config
	runID    string
	closeLog func() error
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "redash-extract",
		Short:         "Extract Redash report queries into Parquet files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "YAML config file")
	root.PersistentFlags().StringSliceVar(&c.envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")

	root.AddCommand(
		newRunCmd(c),
		newQueryCmd(c),
		newFetchAllCmd(c),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and sets up logging for one command.
func (c *cli) load() error {
	cfg, err := config.Load(config.Options{
		File:     c.configFile,
		EnvFiles: c.envFiles,
	})
	if err != nil {
		return err
	}
	c.cfg = cfg

	_, closeLog, err := logging.Open(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	c.closeLog = closeLog

	c.runID = uuid.NewString()
	logging.WithRunID(c.runID)
	return nil
}

func (c *cli) close() {
	if c.closeLog == nil {
		return
	}
	if err := c.closeLog(); err != nil {
		log.Warn().Err(err).Msg("Failed to close log file")
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "redash-extract", version)
		},
	}
}
