package eod

import (
	"time"

	"trader-x-ai/internal/interfaces"
)

// NewSummarizer summarizes the trade logs under dir.
func NewSummarizer(dir string) interfaces.EodSummarizer {
	return &eodSummarizer{dir: dir, now: time.Now}
}
