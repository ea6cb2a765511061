package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"trader-x-ai/internal/analysis"
	"trader-x-ai/internal/bot"
	"trader-x-ai/internal/eod"
	"trader-x-ai/internal/eod/eodobs"
	"trader-x-ai/internal/exchange/exchangeobs"
	"trader-x-ai/internal/exchange/kraken"
	"trader-x-ai/internal/httpapi"
	"trader-x-ai/internal/interfaces"
	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/news"
	"trader-x-ai/internal/performance"
	"trader-x-ai/internal/runner"
	"trader-x-ai/internal/store"
	"trader-x-ai/internal/tradelog"
)

const eodCheckInterval = time.Minute

func runBot(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Mode == store.ModeDryRun {
		logger.Warn(ctx, "Running in DRY_RUN mode, orders will be simulated")
	}

	creds, err := loadCredentials(ctx, cfg)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load exchange credentials", err)
		return err
	}

	tlog := tradelog.New(tradelog.Dir())
	compressOldLogs(ctx, tlog)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tracker, err := performance.NewTracker(reg)
	if err != nil {
		return err
	}
	analyses := analysis.NewStore()
	val := initializeValidator(ctx, cfg)

	var headlines interfaces.HeadlineSource
	if cfg.News.Enabled {
		headlines = news.NewService(cfg.News)
	}

	r := runner.New(cfg, func(ctx context.Context) (runner.Bot, error) {
		ex, err := kraken.New(kraken.Params{Mode: cfg.Mode, Creds: creds, Kraken: cfg.Kraken, Risk: cfg.Risk})
		if err != nil {
			return nil, err
		}
		return bot.New(cfg, bot.Deps{
			Exchange:  exchangeobs.Wrap(ex),
			Validator: val,
			News:      headlines,
			Tracker:   tracker,
			Analyses:  analyses,
			TradeLog:  tlog,
		}), nil
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return r.Run(gctx)
	})

	if cfg.HTTP.Enabled {
		srv := httpapi.NewServer(cfg.HTTP.Addr, httpapi.Params{
			Config:   cfg,
			Tracker:  tracker,
			Analyses: analyses,
			News:     headlines,
			Gatherer: reg,
		})
		g.Go(func() error {
			logger.Info(gctx, "Status API listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	summarizer := eodobs.Wrap(eod.NewSummarizer(tlog.Dir()))
	g.Go(func() error {
		runEODLoop(gctx, summarizer)
		return nil
	})

	return g.Wait()
}

// runEODLoop writes yesterday's summary once it is due.
func runEODLoop(ctx context.Context, s interfaces.EodSummarizer) {
	tick := time.NewTicker(eodCheckInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if ok, _ := s.ShouldRunNow(); ok {
				_, _ = s.SummarizeYesterday()
			}
		}
	}
}
