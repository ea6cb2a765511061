package eodobs

import (
	"context"
	"time"

	"trader-x-ai/internal/interfaces"
	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/trace"
)

type observableEodSummarizer struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableEodSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableEodSummarizer{summarizer: summarizer}
}

func (o *observableEodSummarizer) SummarizeDay(t time.Time) (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeDay")
	defer span.End()

	date := t.UTC().Format("2006-01-02")
	csvPath, err := o.summarizer.SummarizeDay(t)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "EOD summary failed", err, "date", date)
		return "", err
	}
	if csvPath == "" {
		logger.InfoSkip(ctx, 1, "No trades for EOD summary", "date", date)
		return "", nil
	}
	logger.InfoSkip(ctx, 1, "EOD summary written", "date", date, "csv_path", csvPath)
	return csvPath, nil
}

func (o *observableEodSummarizer) SummarizeYesterday() (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeYesterday")
	defer span.End()

	csvPath, err := o.summarizer.SummarizeYesterday()
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Yesterday's EOD summary failed", err)
		return "", err
	}
	logger.InfoSkip(ctx, 1, "Yesterday's EOD summary done", "csv_path", csvPath)
	return csvPath, nil
}

func (o *observableEodSummarizer) ShouldRunNow() (bool, string) {
	ctx, span := trace.StartSpan(context.Background(), "eod.ShouldRunNow")
	defer span.End()

	shouldRun, csvPath := o.summarizer.ShouldRunNow()
	logger.DebugSkip(ctx, 1, "EOD check", "should_run", shouldRun, "csv_path", csvPath)
	return shouldRun, csvPath
}
