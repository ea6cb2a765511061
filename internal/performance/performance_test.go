package performance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(nil)
	require.NoError(t, err)
	return tr
}

func TestRecordClose(t *testing.T) {
	tr := newTracker(t)
	for i := 0; i < 3; i++ {
		tr.RecordOpen()
	}
	tr.RecordClose(d("100"))
	tr.RecordClose(d("-40"))
	tr.RecordClose(d("10"))

	assert.Equal(t, "3", tr.Get(KeyTotalTrades).String())
	assert.Equal(t, "2", tr.Get(KeyWinningTrades).String())
	assert.Equal(t, "1", tr.Get(KeyLosingTrades).String())
	assert.Equal(t, "70", tr.Get(KeyTotalProfit).String())
	assert.Equal(t, "100", tr.Get(KeyBestTrade).String())
	assert.Equal(t, "-40", tr.Get(KeyWorstTrade).String())
	assert.True(t, d("23.3333").Equal(tr.Get(KeyAverageProfit).Round(4)))
	assert.True(t, d("66.6667").Equal(tr.WinRate().Round(4)))
}

func TestFirstLosingCloseSetsBest(t *testing.T) {
	tr := newTracker(t)
	tr.RecordOpen()
	tr.RecordClose(d("-5"))
	assert.Equal(t, "-5", tr.Get(KeyBestTrade).String())
	assert.Equal(t, "-5", tr.Get(KeyWorstTrade).String())
}

func TestUpdateEquity(t *testing.T) {
	tr := newTracker(t)

	tr.UpdateEquity(d("10000"))
	assert.True(t, tr.Get(KeyPeakEquity).IsZero(), "ignored before any trade")

	tr.RecordOpen()
	tr.UpdateEquity(d("10000"))
	tr.UpdateEquity(d("9000"))
	assert.Equal(t, "10000", tr.Get(KeyPeakEquity).String())
	assert.Equal(t, "0.1", tr.Get(KeyCurrentDrawdown).String())

	tr.UpdateEquity(d("9500"))
	assert.Equal(t, "0.05", tr.Get(KeyCurrentDrawdown).String())
	assert.Equal(t, "0.1", tr.Get(KeyMaxDrawdown).String())
}

func TestWinRateWithoutTrades(t *testing.T) {
	assert.True(t, newTracker(t).WinRate().IsZero())
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "performance_metrics.json")

	tr := newTracker(t)
	tr.RecordOpen()
	tr.RecordClose(d("12.5"))
	require.NoError(t, tr.Save(path))

	loaded := newTracker(t)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, tr.Metrics(), loaded.Metrics())
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"total_trades":"4","sharpe":"9"}`), 0o644))

	tr := newTracker(t)
	require.NoError(t, tr.Load(path))
	assert.Equal(t, "4", tr.Get(KeyTotalTrades).String())
	assert.NotContains(t, tr.Metrics(), "sharpe")
}

func TestLoadMissingFile(t *testing.T) {
	assert.NoError(t, newTracker(t).Load(filepath.Join(t.TempDir(), "none.json")))
}

func TestGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr, err := NewTracker(reg)
	require.NoError(t, err)

	tr.RecordOpen()
	tr.RecordClose(d("20"))
	assert.Equal(t, 20.0, testutil.ToFloat64(tr.gauge.WithLabelValues(KeyTotalProfit)))
	assert.Equal(t, 100.0, testutil.ToFloat64(tr.gauge.WithLabelValues("win_rate")))

	_, err = NewTracker(reg)
	assert.Error(t, err, "duplicate registration")
}
