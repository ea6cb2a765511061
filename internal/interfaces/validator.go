package interfaces

import (
	"context"

	"trader-x-ai/internal/types"
)

// Validator gets the final say on a strategy signal before an order is sent.
type Validator interface {
	Validate(ctx context.Context, pair string, signal types.Signal, analysis types.Analysis, extra map[string]any) (types.Verdict, error)
}
