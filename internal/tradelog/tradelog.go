// Package tradelog appends trades and signals to daily JSONL files.
package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOpen  = "OPEN"
	EventClose = "CLOSE"

	dateLayout = "2006-01-02"
)

type Entry struct {
	Time      string          `json:"time"`
	Event     string          `json:"event"`
	Pair      string          `json:"pair"`
	Side      string          `json:"side"`
	Volume    decimal.Decimal `json:"volume"`
	Price     decimal.Decimal `json:"price"`
	TxID      string          `json:"txid"`
	Strategy  string          `json:"strategy,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	PnL       decimal.Decimal `json:"pnl"`
	Simulated bool            `json:"simulated,omitempty"`
}

type SignalEntry struct {
	Time          string             `json:"time"`
	Pair          string             `json:"pair"`
	Strategy      string             `json:"strategy"`
	Direction     string             `json:"direction"`
	Strength      float64            `json:"strength"`
	Reason        string             `json:"reason"`
	Approved      bool               `json:"approved"`
	Confidence    float64            `json:"confidence"`
	VerdictReason string             `json:"verdict_reason,omitempty"`
	Close         float64            `json:"close"`
	Indicators    map[string]float64 `json:"indicators,omitempty"`
	Extra         map[string]any     `json:"extra,omitempty"`
}

// Dir is TRADER_LOG_DIR or "logs".
func Dir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

// TradeFile is the trade log for the UTC date of t.
func TradeFile(dir string, t time.Time) string {
	return filepath.Join(dir, t.UTC().Format(dateLayout)+".txt")
}

func SignalFile(dir string, t time.Time) string {
	return filepath.Join(dir, "signals", t.UTC().Format(dateLayout)+".txt")
}

type Log struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

func New(dir string) *Log {
	return NewWithClock(dir, time.Now)
}

func NewWithClock(dir string, now func() time.Time) *Log {
	return &Log{dir: dir, now: now}
}

func (l *Log) Dir() string { return l.dir }

func (l *Log) Append(e Entry) error {
	now := l.now().UTC()
	e.Time = now.Format(time.RFC3339)
	return l.appendLine(TradeFile(l.dir, now), e)
}

func (l *Log) AppendSignal(e SignalEntry) error {
	now := l.now().UTC()
	e.Time = now.Format(time.RFC3339)
	return l.appendLine(SignalFile(l.dir, now), e)
}

func (l *Log) appendLine(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips .txt logs not modified in the last retentionDays and
// removes the originals.
func (l *Log) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := l.now().AddDate(0, 0, -retentionDays)

	l.mu.Lock()
	defer l.mu.Unlock()

	return filepath.WalkDir(l.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".txt") {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		return gzipFile(p)
	})
}

func gzipFile(p string) error {
	gz := p + ".gz"
	if _, err := os.Stat(gz); err == nil {
		return os.Remove(p)
	}

	in, err := os.Open(p)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(gz, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		_ = os.Remove(gz)
		return fmt.Errorf("compress %s: %w", p, err)
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(p)
}
