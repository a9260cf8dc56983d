// Command discoveryd scans a PHP source tree and maintains a class
// metadata cache, optionally as a long-running watch daemon (spec §4.8,
// §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ppiankov/discoveryd/internal/config"
	"github.com/ppiankov/discoveryd/internal/daemon"
	"github.com/ppiankov/discoveryd/internal/logging"
	"github.com/ppiankov/discoveryd/internal/scanner"
	"github.com/ppiankov/discoveryd/internal/writer"
)

var (
	flagConfig  string
	flagPaths   []string
	flagOutput  string
	flagForce   bool
	flagVerbose bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "discoveryd",
		Short: "PHP class metadata cache daemon",
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().StringSliceVar(&flagPaths, "paths", nil, "source roots to scan")
	root.PersistentFlags().StringVar(&flagOutput, "output", "", "cache output path")
	root.PersistentFlags().BoolVar(&flagForce, "force", false, "take over the lock, terminating the daemon that holds it")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug-level logging")

	root.AddCommand(scanCmd(), watchCmd())
	return root
}

// scanCmd runs a single scan-and-write pass without acquiring the
// daemon lock or binding the IPC socket: a supplemental one-shot mode
// alongside the watch daemon (spec §4.3, §4.6).
func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan and write the cache output",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadDaemonConfig()
			if err != nil {
				return err
			}

			classes := scanner.Scan(scanner.Options{
				Roots:       cfg.Roots,
				Ignore:      cfg.Ignore,
				MaxFileSize: cfg.MaxFileSize,
				Log:         logging.Component(log, "scanner"),
			})

			if err := writer.WriteCache(classes, cfg.OutputPath, writer.Format(cfg.Format), cfg.Pretty); err != nil {
				return fmt.Errorf("write cache: %w", err)
			}

			log.Info().Int("classes", len(classes)).Str("output", cfg.OutputPath).Msg("scan complete")
			return nil
		},
	}
}

// watchCmd runs the long-lived Daemon Core (spec §4.8).
func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run as a long-lived daemon, watching for file changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadDaemonConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
			defer cancel()

			return daemon.New(cfg, log).Run(ctx)
		},
	}
}

func loadDaemonConfig() (*config.Daemon, zerolog.Logger, error) {
	file, err := config.Load(flagConfig)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}

	log, err := logging.New(logging.Options{
		Verbose: flagVerbose,
		Level:   file.LogLevel,
		Format:  file.LogFormat,
		File:    file.LogFile,
	})
	if err != nil {
		return nil, zerolog.Logger{}, err
	}

	cfg, err := config.FromFile(file, flagPaths, flagOutput)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	cfg.Force = cfg.Force || flagForce

	return cfg, log, nil
}
