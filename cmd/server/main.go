// Command zephyrd is the reverse tunneling server daemon (spec.md §6: CLI
// (server) -- just --config, no runtime commands).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zephyrtun/zephyr/internal/config"
	"github.com/zephyrtun/zephyr/internal/server"
	"github.com/zephyrtun/zephyr/internal/version"
)

func main() {
	configName := flag.String("config", "zephyrd", "Base name of the layered config file (/etc/<name>, ./<name>, ZEPHYR_ env vars)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("zephyrd " + version.Full())
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if config.Debug(*configName) {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.LoadServer(*configName)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
