package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configFile string
	verbose    bool
	serverURL  string
	userDN     string
)

const version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "odrive",
		Short: "Hierarchical object drive with classification-aware access control",
		Long: `An object drive service holding documents and folders, each carrying a
classification marking, a change token guarding mutation, and per-grantee
permission grants that can propagate down the folder hierarchy.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:4430", "drive server URL")
	rootCmd.PersistentFlags().StringVar(&userDN, "user", "", "distinguished name to act as")

	rootCmd.AddCommand(
		serveCmd(),
		lsCmd(),
		mkdirCmd(),
		rmCmd(),
		mvCmd(),
		restoreCmd(),
		trashedCmd(),
		shareCmd(),
		unshareCmd(),
		sharesCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("odrive %s\n", version)
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Development = true
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
