package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"auto-transcriber/internal/logging"
)

// RunHeadless runs the daemon without a desktop shell until ctx is cancelled.
// Detected files are confirmed automatically.
func RunHeadless(ctx context.Context) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve user home: %w", err)
	}

	store, settings, err := LoadSettings(homeDir, os.LookupEnv)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: settings.LogLevel, File: settings.LogFile})
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logger.Close()

	daemon, err := NewDaemon(settings, store, Hooks{}, logger.Logger)
	if err != nil {
		return err
	}

	if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
