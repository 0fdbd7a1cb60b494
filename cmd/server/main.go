package main

import (
	"log/slog"
	"os"

	"go-auth-tokens/internal/app"
	"go-auth-tokens/internal/logger"
)

func main() {
	// Bootstrap logger until the config is loaded.
	slog.SetDefault(logger.New("local", "info", os.Stdout))

	application, err := app.New()
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}
