// Command glassd is the engine's process entry point: `glassd <config.json>
// [noconsole]`, reading NDJSON messages from stdin and writing NDJSON Hypo/
// Cancel reports to stdout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"glass3/internal/debugstore"
	"glass3/internal/logging"
)

func main() {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()

	if err := rootCmd().Execute(); err != nil {
		slog.Error("glassd: command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glassd <config.json> [noconsole]",
		Short: "Run the glass3 association engine",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := args[0]
			console := true
			if len(args) == 2 {
				if args[1] != "noconsole" {
					return fmt.Errorf("unrecognized argument %q, expected \"noconsole\"", args[1])
				}
				console = false
			}
			return run(cmd.Context(), configPath, console)
		},
	}
	return cmd
}

func run(ctx context.Context, configPath string, console bool) error {
	logDir := os.Getenv("GLASS_LOG")
	closer, err := logging.ConfigureProcess(logging.Options{Level: logging.LevelInfo, Dir: logDir, Console: console})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer closer.Close()

	eng, store, err := buildEngine(configPath)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go readStdin(ctx, eng)

	slog.Info("glassd: engine started", "config", configPath)
	eng.Start(ctx)
	slog.Info("glassd: engine stopped")
	return nil
}

func openGraphicsStore(dir string) (*debugstore.Store, error) {
	return debugstore.Open(dir)
}
