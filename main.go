package main

import (
	"fmt"
	"os"
	"runtime"

	"torii/internal/config"
	"torii/internal/scheduler"
	"torii/internal/server"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Version will be set during the build process using ldflags
var Version = "(dev) v0.0.0"

var (
	configPath string
	logfile    string
	verbosity  int
)

func main() {
	root := &cobra.Command{
		Use:           "torii",
		Short:         "Keeps editor documents and a snippet store in sync",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML or JSON config file")
	root.PersistentFlags().StringVar(&logfile, "logfile", "", "Path to log file")
	root.PersistentFlags().IntVarP(&verbosity, "verbose", "v", -1, "Log verbosity, overrides the config")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the language server on stdio",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	})
	root.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the journaled store snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDump(cfg, cmd.OutOrStdout())
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return config.Config{}, err
		}
	}
	if logfile != "" {
		cfg.LogFile = logfile
	}
	if verbosity >= 0 {
		cfg.Verbosity = verbosity
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 4 Cores
	runtime.GOMAXPROCS(4)

	// Logging. stdout carries the protocol, so without a file nothing is logged.
	if cfg.LogFile != "" {
		commonlog.Configure(cfg.Verbosity, &cfg.LogFile)
	} else {
		commonlog.Configure(0, nil)
	}
	log := commonlog.GetLogger("torii")
	log.Infof("starting torii %s", Version)

	sched := scheduler.NewScheduler(256)
	sched.RunScheduler()
	defer sched.StopScheduler()

	srv, err := server.NewServer(sched, server.WithConfig(cfg), server.WithVersion(Version))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.RunStdio(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
