package validatorobs

import (
	"context"

	"trader-x-ai/internal/interfaces"
	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/trace"
	"trader-x-ai/internal/types"
)

// observableValidator wraps a Validator with logging and tracing
type observableValidator struct {
	v interfaces.Validator
}

var _ interfaces.Validator = (*observableValidator)(nil)

func Wrap(v interfaces.Validator) interfaces.Validator {
	return &observableValidator{v: v}
}

func (o *observableValidator) Validate(ctx context.Context, pair string, sig types.Signal, a types.Analysis, extra map[string]any) (types.Verdict, error) {
	ctx, span := trace.StartSpan(ctx, "validator.Validate")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Requesting signal validation",
		"pair", pair,
		"strategy", sig.Strategy,
		"direction", string(sig.Direction),
		"strength", sig.Strength,
	)

	verdict, err := o.v.Validate(ctx, pair, sig, a, extra)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Signal validation failed", err, "pair", pair, "strategy", sig.Strategy)
		return types.Verdict{}, err
	}

	logger.InfoSkip(ctx, 1, "Signal validation received",
		"pair", pair,
		"strategy", sig.Strategy,
		"approved", verdict.Approved,
		"confidence", verdict.Confidence,
		"reason", verdict.Reason,
	)
	return verdict, nil
}
