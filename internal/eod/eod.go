package eod

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trader-x-ai/internal/tradelog"
)

// runAfter is how long after UTC midnight the previous day is summarized.
const runAfter = 5 * time.Minute

type eodSummarizer struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	done string // last UTC date summarized, with or without trades
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func csvPath(dir string, t time.Time) string {
	return filepath.Join(dir, "eod", dateKey(t)+".csv")
}

// SummarizeDay writes the CSV for the UTC date of t. It returns "" without
// error when there is no trade log or it holds no trades.
func (s *eodSummarizer) SummarizeDay(t time.Time) (string, error) {
	path, err := s.summarize(t)
	if err == nil {
		s.mu.Lock()
		s.done = dateKey(t)
		s.mu.Unlock()
	}
	return path, err
}

func (s *eodSummarizer) summarize(t time.Time) (string, error) {
	f, err := os.Open(tradelog.TradeFile(s.dir, t))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	aggs := map[string]*aggRow{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e tradelog.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		row := aggs[e.Pair]
		if row == nil {
			row = &aggRow{Pair: e.Pair}
			aggs[e.Pair] = row
		}
		row.Trades++
		value := e.Volume.Mul(e.Price)
		switch e.Side {
		case "buy":
			row.BuyVolume = row.BuyVolume.Add(e.Volume)
			row.BuyValue = row.BuyValue.Add(value)
		case "sell":
			row.SellVolume = row.SellVolume.Add(e.Volume)
			row.SellValue = row.SellValue.Add(value)
		}
		if e.Event == tradelog.EventClose {
			row.RealizedPnL = row.RealizedPnL.Add(e.PnL)
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(aggs) == 0 {
		return "", nil
	}

	pairs := make([]string, 0, len(aggs))
	for k := range aggs {
		pairs = append(pairs, k)
	}
	sort.Strings(pairs)

	outPath := csvPath(s.dir, t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"pair", "trades", "buy_volume", "buy_avg", "sell_volume", "sell_avg", "realized_pnl", "gross_buy_value", "gross_sell_value"}
	if err := w.Write(headers); err != nil {
		return "", err
	}

	var totalBuy, totalSell, totalPnL decimal.Decimal
	totalTrades := 0
	for _, p := range pairs {
		r := aggs[p]
		rec := []string{
			r.Pair,
			strconv.Itoa(r.Trades),
			r.BuyVolume.String(),
			avg(r.BuyValue, r.BuyVolume).StringFixed(4),
			r.SellVolume.String(),
			avg(r.SellValue, r.SellVolume).StringFixed(4),
			r.RealizedPnL.StringFixed(2),
			r.BuyValue.StringFixed(2),
			r.SellValue.StringFixed(2),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalBuy = totalBuy.Add(r.BuyValue)
		totalSell = totalSell.Add(r.SellValue)
		totalPnL = totalPnL.Add(r.RealizedPnL)
		totalTrades += r.Trades
	}
	if err := w.Write([]string{"TOTAL", strconv.Itoa(totalTrades), "", "", "", "", totalPnL.StringFixed(2), totalBuy.StringFixed(2), totalSell.StringFixed(2)}); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

func avg(value, volume decimal.Decimal) decimal.Decimal {
	if volume.IsZero() {
		return decimal.Zero
	}
	return value.Div(volume)
}

func (s *eodSummarizer) yesterday() time.Time {
	return s.now().UTC().AddDate(0, 0, -1)
}

func (s *eodSummarizer) SummarizeYesterday() (string, error) {
	return s.SummarizeDay(s.yesterday())
}

// ShouldRunNow reports whether yesterday's summary is due: shortly after
// UTC midnight, not summarized by this process and not written yet.
func (s *eodSummarizer) ShouldRunNow() (bool, string) {
	now := s.now().UTC()
	day := s.yesterday()
	outPath := csvPath(s.dir, day)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if now.Sub(midnight) < runAfter {
		return false, outPath
	}
	s.mu.Lock()
	done := s.done == dateKey(day)
	s.mu.Unlock()
	if done {
		return false, outPath
	}
	if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
		return true, outPath
	}
	return false, outPath
}
