package news

import (
	"context"
	"sync"
	"time"

	"trader-x-ai/internal/interfaces"
	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/store"
	"trader-x-ai/internal/types"
)

type scraper interface {
	Scrape(ctx context.Context, pair string, max int) ([]types.Headline, error)
}

// Service serves headlines per pair from a TTL cache in front of the scraper.
type Service struct {
	cfg     store.NewsConfig
	scraper scraper
	cache   *headlineCache
}

var _ interfaces.HeadlineSource = (*Service)(nil)

func NewService(cfg store.NewsConfig) *Service {
	return &Service{
		cfg:     cfg,
		scraper: NewScraper(cfg.Sources, time.Duration(cfg.TimeoutSeconds)*time.Second),
		cache:   newHeadlineCache(time.Duration(cfg.CacheMinutes) * time.Minute),
	}
}

// Headlines returns cached or fresh headlines for pair. A disabled service
// returns none. Scrape failures are logged and yield no headlines.
func (s *Service) Headlines(ctx context.Context, pair string) ([]types.Headline, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}
	if hs, ok := s.cache.get(pair); ok {
		return hs, nil
	}

	hs, err := s.scraper.Scrape(ctx, pair, s.cfg.MaxHeadlines)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch headlines", err, "pair", pair)
		return nil, err
	}
	s.cache.set(pair, hs)
	logger.Info(ctx, "Fetched fresh headlines", "pair", pair, "count", len(hs))
	return hs, nil
}

type headlineCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	ttl  time.Duration
	now  func() time.Time
}

type cacheEntry struct {
	headlines []types.Headline
	at        time.Time
}

func newHeadlineCache(ttl time.Duration) *headlineCache {
	return &headlineCache{data: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func (c *headlineCache) get(pair string) ([]types.Headline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[pair]
	if !ok || c.now().Sub(e.at) > c.ttl {
		return nil, false
	}
	return e.headlines, true
}

// set stores headlines and drops expired entries.
func (c *headlineCache) set(pair string, hs []types.Headline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.data {
		if now.Sub(e.at) > c.ttl {
			delete(c.data, k)
		}
	}
	c.data[pair] = cacheEntry{headlines: hs, at: now}
}
