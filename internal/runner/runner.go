// Package runner restarts the bot after failures and persists its state on
// every exit.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/store"
	"trader-x-ai/internal/types"
)

const stateFile = "bot_state.json"

// Bot is one attempt's worth of trading bot.
type Bot interface {
	Run(ctx context.Context) error
	State() types.BotState
	Close(ctx context.Context) error
}

// Factory builds a fresh bot for each attempt.
type Factory func(ctx context.Context) (Bot, error)

type Runner struct {
	cfg     store.RunnerConfig
	dataDir string
	factory Factory
	after   func(time.Duration) <-chan time.Time
}

func New(cfg *store.Config, factory Factory) *Runner {
	return &Runner{cfg: cfg.Runner, dataDir: cfg.DataDir, factory: factory, after: time.After}
}

func (r *Runner) StatePath() string {
	return filepath.Join(r.dataDir, stateFile)
}

// Run keeps the bot running until ctx is cancelled or max_retries attempts
// have failed. Waits between attempts grow linearly with the attempt number.
func (r *Runner) Run(ctx context.Context) error {
	maxRetries := max(r.cfg.MaxRetries, 1)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		logger.Info(ctx, "Starting trading bot", "attempt", attempt, "max_retries", maxRetries)

		err := r.attempt(ctx)
		if err == nil || ctx.Err() != nil {
			logger.Info(ctx, "Trading bot stopped")
			return nil
		}
		logger.ErrorWithErr(ctx, "Trading bot failed", err, "attempt", attempt, "max_retries", maxRetries)
		if attempt == maxRetries {
			logger.Error(ctx, "Maximum retries reached, stopping")
			return fmt.Errorf("bot failed after %d attempts: %w", attempt, err)
		}

		wait := time.Duration(r.cfg.RetryBaseSeconds*attempt) * time.Second
		logger.Info(ctx, "Retrying trading bot", "wait", wait.String())
		select {
		case <-ctx.Done():
			return nil
		case <-r.after(wait):
		}
	}
	return nil
}

func (r *Runner) attempt(ctx context.Context) error {
	b, err := r.factory(ctx)
	if err != nil {
		return fmt.Errorf("build bot: %w", err)
	}
	defer func() {
		if err := r.SaveState(b.State()); err != nil {
			logger.ErrorWithErr(ctx, "Failed to save bot state", err)
		} else {
			logger.Info(ctx, "Bot state saved", "path", r.StatePath())
		}
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := b.Close(closeCtx); err != nil {
			logger.ErrorWithErr(ctx, "Failed to close bot", err)
		}
	}()
	return b.Run(ctx)
}

func (r *Runner) SaveState(state types.BotState) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.StatePath(), b, 0o644)
}
