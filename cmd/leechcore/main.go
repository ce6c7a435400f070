// Command leechcore downloads a single-file torrent to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/ntran/leechcore/internal/config"
	"github.com/ntran/leechcore/internal/engine"
	"github.com/ntran/leechcore/internal/logging"
)

func main() {
	setupLogger()

	downloadDir := flag.String("dir", "", "directory to write the downloaded file to (defaults to the platform download dir)")
	numWant := flag.Int("peers", 0, "peers to request per tracker announce (0 keeps the default)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: leechcore [-dir path] [-peers n] <path-to-torrent>")
		os.Exit(2)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		slog.Error("failed to read torrent file", "error", err.Error())
		os.Exit(1)
	}

	cfg := config.Default()
	if *downloadDir != "" {
		cfg.DownloadDir = *downloadDir
	}
	if *numWant > 0 {
		cfg.NumWant = *numWant
	}

	e, err := engine.New(data, cfg)
	if err != nil {
		slog.Error("failed to initialize download", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	bar := progressbar.DefaultBytes(e.Stats().Total, e.Name())
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-runErr:
			bar.Finish()
			if err != nil {
				slog.Error("download failed", "error", err.Error())
				os.Exit(1)
			}
			fmt.Println()
			slog.Info("download complete", "file", e.Name())
			return

		case <-ticker.C:
			stats := e.Stats()
			_ = bar.Set64(stats.Downloaded)
		}
	}
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo
	opts.SlogOpts.AddSource = false

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	l := slog.New(h)
	slog.SetDefault(l)
}
