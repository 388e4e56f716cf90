package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/kebairia/smb-snapshots/internal/config"
	"github.com/kebairia/smb-snapshots/internal/logger"
	"github.com/spf13/cobra"
)

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string
	// LogFile overrides log.file from the configuration when set.
	LogFile string
	// Verbose enables debug logging.
	Verbose bool

	// rootCmd is the base command for smb-snapshots.
	rootCmd = &cobra.Command{
		Use:   "smb-snapshots",
		Short: "Samba shadow-copy snapshots of file shares",
		Long: `smb-snapshots copies every configured share into a timestamped
@GMT directory that Samba exposes as "Previous Versions", and prunes
the oldest snapshots beyond the retention count.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command and returns the process exit status.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return int(ExitOK)
	}

	code := exitCodeFor(err)
	reportError(os.Stderr, code, err)
	return int(code)
}

func reportError(w io.Writer, code ExitCode, err error) {
	fmt.Fprintf(w, "ERROR: %v\n", err)
	if code == ExitNoConfig {
		fmt.Fprintf(w, "Default location: %s. Sample configuration:\n\n", config.DefaultPath)
		if sample, serr := config.ExampleYAML(); serr == nil {
			w.Write(sample)
		}
	}
}

// loadConfig reads ConfigFile and builds the logger it describes.
func loadConfig() (*config.Config, logger.Logger, func(), error) {
	var cfg config.Config
	if err := cfg.Load(ConfigFile); err != nil {
		return nil, nil, nil, err
	}

	logPath := cfg.Log.File
	if LogFile != "" {
		logPath = LogFile
	}
	log, cleanup, err := logger.New(logger.Options{
		Verbose:    Verbose,
		File:       logPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setup logging: %w", err)
	}
	return &cfg, log, cleanup, nil
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", config.DefaultPath, "path to YAML config file")
	rootCmd.PersistentFlags().
		StringVarP(&LogFile, "log-file", "l", "", "log file (overrides log.file)")
	rootCmd.PersistentFlags().
		BoolVarP(&Verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}
