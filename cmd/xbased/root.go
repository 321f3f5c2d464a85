package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	socketFlag    string
	deviceSetFlag string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "xbased",
	Short: "Background daemon accelerating Xcode development from terminal editors",
	Long:  "xbased is a background daemon that drives Xcode builds, runs, and simulator installs over a Unix socket so terminal editors never have to shell out to xcodebuild directly.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "daemon request socket path (overrides XBASE_SOCKET)")
	rootCmd.PersistentFlags().StringVar(&deviceSetFlag, "device-set", "", "custom simctl device set to use instead of the default")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initConfig() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
