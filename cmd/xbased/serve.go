package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xbase-dev/xbased/internal/daemonsocket"
	"github.com/xbase-dev/xbased/internal/project"
	"github.com/xbase-dev/xbased/internal/registry"
	"github.com/xbase-dev/xbased/internal/simulator"
)

var simulatorPollInterval = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the xbased daemon loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	resolveHelperPath()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		s := <-sig
		slog.Info("xbased: received signal, shutting down", "signal", s)
		cancel()
	}()

	inv := simulator.NewInventory(deviceSetFlag)
	if err := inv.Refresh(ctx); err != nil {
		slog.Warn("xbased: initial simulator inventory refresh failed", "err", err)
	}
	go pollSimulators(ctx, inv)

	reg := registry.New(inv)

	address := daemonsocket.Address()
	if socketFlag != "" {
		address = socketFlag
	}

	srv, err := daemonsocket.NewServer(address, reg, inv)
	if err != nil {
		return err
	}
	slog.Info("xbased: serving", "socket", address)

	return srv.Serve(ctx)
}

func pollSimulators(ctx context.Context, inv *simulator.Inventory) {
	ticker := time.NewTicker(simulatorPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := inv.Refresh(ctx); err != nil {
				slog.Debug("xbased: simulator inventory refresh failed", "err", err)
			}
		}
	}
}

// resolveHelperPath points project.HelperPath at the sourcekit-helper
// binary installed alongside this executable, falling back to its
// well-known default when none is found there.
func resolveHelperPath() {
	exe, err := os.Executable()
	if err != nil {
		return
	}
	candidate := filepath.Join(filepath.Dir(exe), "xbase-sourcekit-helper")
	if _, err := os.Stat(candidate); err == nil {
		project.HelperPath = candidate
	}
}
