package news

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"trader-x-ai/internal/api"
	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/store"
	"trader-x-ai/internal/types"
)

// Scraper fetches headline listing pages with colly and extracts headlines
// from them with the source's CSS selectors.
type Scraper struct {
	sources []store.NewsSource
	timeout time.Duration
}

func NewScraper(sources []store.NewsSource, timeout time.Duration) *Scraper {
	return &Scraper{sources: sources, timeout: timeout}
}

// Scrape collects up to max headlines for pair across all sources. A failing
// source is logged and skipped.
func (s *Scraper) Scrape(ctx context.Context, pair string, max int) ([]types.Headline, error) {
	var all []types.Headline
	for _, src := range s.sources {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		hs, err := s.scrapeSource(ctx, src, pair)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to scrape source", err, "source", src.Name, "pair", pair)
			continue
		}
		all = append(all, hs...)
		if max > 0 && len(all) >= max {
			return all[:max], nil
		}
	}
	logger.Debug(ctx, "News scraping completed", "pair", pair, "headlines", len(all))
	return all, nil
}

func (s *Scraper) scrapeSource(ctx context.Context, src store.NewsSource, pair string) ([]types.Headline, error) {
	target := SourceURL(src.URL, pair)
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}

	c := colly.NewCollector(
		colly.AllowedDomains(u.Hostname()),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(s.timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for k, v := range api.BrowserHeaders() {
			r.Headers.Set(k, v)
		}
	})

	var (
		headlines []types.Headline
		parseErr  error
	)
	c.OnResponse(func(r *colly.Response) {
		headlines, parseErr = ParseHeadlines(bytes.NewReader(r.Body), src, r.Request.URL)
	})

	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("visit %s: %w", target, err)
	}
	c.Wait()

	if parseErr != nil {
		return nil, parseErr
	}
	return headlines, nil
}

// ParseHeadlines extracts headlines from an HTML page. Links are resolved
// against base; items without a title are skipped.
func ParseHeadlines(r io.Reader, src store.NewsSource, base *url.URL) ([]types.Headline, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var out []types.Headline
	doc.Find(src.Item).Each(func(_ int, item *goquery.Selection) {
		titleSel := item
		if src.Title != "" {
			titleSel = item.Find(src.Title).First()
		}
		title := strings.Join(strings.Fields(titleSel.Text()), " ")
		if title == "" {
			return
		}

		linkSel := item
		if src.Link != "" {
			linkSel = item.Find(src.Link).First()
		}
		href, _ := linkSel.Attr("href")
		link := href
		if base != nil && href != "" {
			if ref, err := url.Parse(href); err == nil {
				link = base.ResolveReference(ref).String()
			}
		}

		var published string
		if src.Published != "" {
			p := item.Find(src.Published).First()
			published, _ = p.Attr("datetime")
			if published == "" {
				published = strings.TrimSpace(p.Text())
			}
		}

		out = append(out, types.Headline{
			Title:       title,
			URL:         link,
			Source:      src.Name,
			PublishedAt: published,
		})
	})
	return out, nil
}

// SourceURL fills the {pair}, {base} and {asset} placeholders of a source
// URL. For XBT/USD: pair=xbtusd, base=xbt, asset=bitcoin.
func SourceURL(tmpl, pair string) string {
	base := strings.ToLower(strings.SplitN(pair, "/", 2)[0])
	return strings.NewReplacer(
		"{pair}", strings.ToLower(strings.ReplaceAll(pair, "/", "")),
		"{base}", base,
		"{asset}", AssetName(base),
	).Replace(tmpl)
}

var assetNames = map[string]string{
	"xbt":  "bitcoin",
	"btc":  "bitcoin",
	"eth":  "ethereum",
	"sol":  "solana",
	"xrp":  "xrp",
	"ada":  "cardano",
	"dot":  "polkadot",
	"doge": "dogecoin",
	"ltc":  "litecoin",
}

// AssetName maps a Kraken base asset code to the name news sites use.
func AssetName(base string) string {
	if n, ok := assetNames[strings.ToLower(base)]; ok {
		return n
	}
	return strings.ToLower(base)
}
