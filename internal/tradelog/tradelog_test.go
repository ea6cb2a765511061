package tradelog

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, p string) []string {
	t.Helper()
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

func TestAppendUsesUTCDate(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	// 23:30 in UTC-5 is already the next day in UTC
	l.now = func() time.Time { return time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*3600)) }

	require.NoError(t, l.Append(Entry{Event: EventOpen, Pair: "XBT/USD", Side: "buy", Volume: decimal.RequireFromString("0.02"), Price: decimal.NewFromInt(50000), TxID: "T1"}))
	require.NoError(t, l.Append(Entry{Event: EventClose, Pair: "XBT/USD", Side: "sell", Volume: decimal.RequireFromString("0.02"), Price: decimal.NewFromInt(49000), TxID: "T1", PnL: decimal.NewFromInt(-20)}))

	p := filepath.Join(dir, "2026-03-02.txt")
	lines := readLines(t, p)
	require.Len(t, lines, 2)

	var e Entry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
	assert.Equal(t, "2026-03-02T04:30:00Z", e.Time)
	assert.Equal(t, EventClose, e.Event)
	assert.True(t, e.PnL.Equal(decimal.NewFromInt(-20)))
	assert.Equal(t, p, TradeFile(dir, l.now()))
}

func TestAppendSignal(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, l.AppendSignal(SignalEntry{Pair: "ETH/USD", Strategy: "breakout", Direction: "sell", Approved: true, Indicators: map[string]float64{"atr": 3}}))

	lines := readLines(t, filepath.Join(dir, "signals", "2026-03-01.txt"))
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"strategy":"breakout"`)
	assert.Contains(t, lines[0], `"approved":true`)
}

func TestCompressOlder(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	old := filepath.Join(dir, "2026-03-01.txt")
	fresh := filepath.Join(dir, "2026-03-09.txt")
	require.NoError(t, os.WriteFile(old, []byte("old\n"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("fresh\n"), 0o644))
	require.NoError(t, os.Chtimes(old, now.AddDate(0, 0, -9), now.AddDate(0, 0, -9)))
	require.NoError(t, os.Chtimes(fresh, now.AddDate(0, 0, -1), now.AddDate(0, 0, -1)))

	require.NoError(t, l.CompressOlder(7))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)

	f, err := os.Open(old + ".gz")
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	b, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(b))
}

func TestCompressOlderMissingDir(t *testing.T) {
	assert.NoError(t, New(filepath.Join(t.TempDir(), "missing")).CompressOlder(3))
	assert.NoError(t, New(t.TempDir()).CompressOlder(0))
}
