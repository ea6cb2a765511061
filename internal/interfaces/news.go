package interfaces

import (
	"context"

	"trader-x-ai/internal/types"
)

type HeadlineSource interface {
	Headlines(ctx context.Context, pair string) ([]types.Headline, error)
}
