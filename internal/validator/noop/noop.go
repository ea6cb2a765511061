package noop

import (
	"context"

	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/types"
)

// Validator approves every signal. It is used when no model is configured.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

func (v *Validator) Validate(ctx context.Context, pair string, sig types.Signal, _ types.Analysis, _ map[string]any) (types.Verdict, error) {
	logger.Debug(ctx, "Noop validator approves signal", "pair", pair, "strategy", sig.Strategy)
	return types.Verdict{Approved: true, Confidence: 1, Reason: "noop_validator"}, nil
}
