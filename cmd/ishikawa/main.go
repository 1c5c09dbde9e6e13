package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bdobrica/Ishikawa/common/environment"
	"github.com/bdobrica/Ishikawa/common/version"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/app"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/config"
)

func main() {
	fmt.Printf("Ishikawa Dataset Agent\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	setupLogging()

	configPath := environment.StringOr("ISHIKAWA_CONFIG", "./ishikawa.yaml")
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config %s: %v\n", configPath, err)
		os.Exit(1)
	}

	apiKey, err := environment.RequiredString("ISHIKAWA_MODEL_API_KEY")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	secrets := app.Secrets{ModelAPIKey: apiKey}
	if cfg.MatrixEnabled() {
		secrets.MatrixToken, err = environment.RequiredString("ISHIKAWA_MATRIX_TOKEN")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, secrets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Ishikawa: %v\n", err)
		os.Exit(1)
	}
	defer a.Stop()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Ishikawa: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging configures slog from ISHIKAWA_LOG_LEVEL (debug, info, warn,
// error; default info).
func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(environment.StringOr("ISHIKAWA_LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
