package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketWarehouse/internal/model"
)

func newTestFetcher(t *testing.T, h http.HandlerFunc) *YahooFetcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	f := NewYahooFetcher("", 5*time.Second)
	f.BaseURL = srv.URL
	f.now = func() time.Time { return time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC) }
	return f
}

const chartBody = `{"chart":{"result":[{"meta":{"symbol":"2330.TW","exchangeTimezoneName":"Asia/Taipei"},
"timestamp":[1704157200,1704243600,1704330000],
"indicators":{"quote":[{"open":[590,null,580],"high":[593,null,582],"low":[589,null,577],"close":[593,null,580],"volume":[26059058,null,1000]}]}}],"error":null}}`

func TestYahooFetchHistory(t *testing.T) {
	var gotPath string
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.NotEmpty(t, r.URL.Query().Get("period1"))
		w.Write([]byte(chartBody))
	})

	bars, err := f.FetchHistory(context.Background(), "2330.TW", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "/v8/finance/chart/2330.TW", gotPath)
	require.Len(t, bars, 2, "null bar is skipped")
	assert.Equal(t, model.PriceBar{
		Date: "2024-01-02", Symbol: "2330.TW", Open: 590, High: 593, Low: 589, Close: 593, Volume: 26059058,
	}, bars[0])
	assert.Equal(t, "2024-01-04", bars[1].Date)
}

func TestYahooFetchHistory_NotFoundIsEmpty(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	})

	bars, err := f.FetchHistory(context.Background(), "GONE", time.Now())
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestYahooFetchHistory_RateLimited(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("Too Many Requests"))
	})

	_, err := f.FetchHistory(context.Background(), "AAPL", time.Now())
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestYahooFetchHistory_ServerError(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})

	_, err := f.FetchHistory(context.Background(), "AAPL", time.Now())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRateLimited))
}

func TestMockFetcher(t *testing.T) {
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	m := &MockFetcher{
		Bars:       map[string][]model.PriceBar{"A": GenerateBars("A", 100, 5, end)},
		RateLimits: map[string]int{"A": 1},
		Errors:     map[string]error{"B": errors.New("boom")},
	}

	_, err := m.FetchHistory(context.Background(), "A", end)
	assert.ErrorIs(t, err, ErrRateLimited)
	bars, err := m.FetchHistory(context.Background(), "A", end)
	require.NoError(t, err)
	assert.Len(t, bars, 5)
	assert.Equal(t, "2024-03-01", bars[4].Date)
	assert.Equal(t, 2, m.Calls("A"))

	_, err = m.FetchHistory(context.Background(), "B", end)
	assert.EqualError(t, err, "boom")

	bars, err = m.FetchHistory(context.Background(), "C", end)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestHistoryStart(t *testing.T) {
	now := time.Date(2024, 6, 15, 13, 0, 0, 0, time.UTC)
	full := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, full, HistoryStart(model.ModeFull, now, 730, full))
	assert.Equal(t, time.Date(2022, 6, 16, 0, 0, 0, 0, time.UTC), HistoryStart(model.ModeHot, now, 730, full))
}
