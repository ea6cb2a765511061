package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"trader-x-ai/internal/interfaces"
	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/store"
	"trader-x-ai/internal/trace"
	"trader-x-ai/internal/tradelog"
	"trader-x-ai/internal/validator"
	"trader-x-ai/internal/validator/claude"
	"trader-x-ai/internal/validator/noop"
	"trader-x-ai/internal/validator/openai"
	"trader-x-ai/internal/validator/validatorobs"
	"trader-x-ai/internal/vault"
)

// initializeSystem loads .env and sets up logging and tracing.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(version); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func shutdownSystem(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = logger.Shutdown(ctx)
}

func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig(configPath)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", configPath)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs gzips trade logs older than TRADER_LOG_RETENTION_DAYS.
func compressOldLogs(ctx context.Context, l *tradelog.Log) {
	v := os.Getenv("TRADER_LOG_RETENTION_DAYS")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn(ctx, "Invalid TRADER_LOG_RETENTION_DAYS", "value", v)
		return
	}
	if err := l.CompressOlder(n); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
	}
}

// loadCredentials tolerates missing credentials in DRY_RUN, where only
// public endpoints are called.
func loadCredentials(ctx context.Context, cfg *store.Config) (vault.Credentials, error) {
	creds, err := vault.Load()
	if err == nil {
		logger.Info(ctx, "Exchange credentials loaded", "credentials", creds.String())
		return creds, nil
	}
	if errors.Is(err, vault.ErrNoCredentials) && cfg.Mode != store.ModeLive {
		logger.Warn(ctx, "No exchange credentials, running with public endpoints only")
		return vault.Credentials{}, nil
	}
	return vault.Credentials{}, err
}

func initializeValidator(ctx context.Context, cfg *store.Config) interfaces.Validator {
	var v interfaces.Validator

	switch cfg.Validator.Provider {
	case validator.ProviderOpenAI:
		v = openai.New(openai.Params{
			Config:   cfg.Validator,
			APIKey:   os.Getenv("OPENAI_API_KEY"),
			Endpoint: os.Getenv("OPENAI_API_ENDPOINT"),
		})
	case validator.ProviderClaude:
		v = claude.New(claude.Params{
			Config:   cfg.Validator,
			APIKey:   os.Getenv("CLAUDE_API_KEY"),
			Endpoint: os.Getenv("CLAUDE_API_ENDPOINT"),
		})
	default:
		v = noop.New()
		logger.Warn(ctx, "No validator provider configured, every signal is approved")
	}
	return validatorobs.Wrap(v)
}
