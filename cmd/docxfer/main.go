// Command docxfer exports document databases to archives and imports them
// back.
//
//	docxfer export --config docxfer.yaml --archive s3://backups/couch users orders
//	docxfer import --config docxfer.yaml s3://backups/couch/2026/10/15/<id>/backup.zip
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "docxfer",
		Short: "Move document databases in and out of portable archives",
		Long: `docxfer streams every document of one or more databases, attachments
included, into a zip archive, and writes such archives back into a store
with their revisions intact.

Stores: CouchDB, MongoDB, PostgreSQL. Archives live on disk, in S3 or in
Google Cloud Storage.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(newExportCmd(a), newImportCmd(a), newVersionCmd())
	return rootCmd
}

// load reads the configuration and applies the global flags over it.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(a.logger)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docxfer %s (%s, %s)\n", version, commit, buildDate)
		},
	}
}
