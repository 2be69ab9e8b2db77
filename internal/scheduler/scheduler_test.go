package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketWarehouse/internal/model"
)

type fakeRunner struct {
	mu      sync.Mutex
	all     int
	markets []string
	release chan struct{}
}

func (f *fakeRunner) RunAll(context.Context) []model.MarketReport {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all++
	return nil
}

func (f *fakeRunner) RunMarket(_ context.Context, m model.Market) model.MarketReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = append(f.markets, m.ID)
	return model.MarketReport{Market: m}
}

func (f *fakeRunner) Latest(context.Context) ([]model.RunSummary, error) {
	return []model.RunSummary{{Market: "tw-share", Coverage: 99.5, StartedAt: time.Date(2024, 6, 14, 18, 30, 0, 0, time.UTC)}}, nil
}

func (f *fakeRunner) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.all, append([]string(nil), f.markets...)
}

func lookup(id string) (model.Market, bool) {
	if id == "tw-share" || id == "us-share" {
		return model.Market{ID: id}, true
	}
	return model.Market{}, false
}

func newTestScheduler(r *fakeRunner) *Scheduler {
	return NewScheduler(context.Background(), r, lookup, zerolog.Nop())
}

func TestRunNow(t *testing.T) {
	r := &fakeRunner{}
	s := newTestScheduler(r)

	assert.True(t, s.RunNow(""))
	assert.True(t, s.RunNow("us-share"))
	assert.True(t, s.RunNow("xx-share"))

	all, markets := r.snapshot()
	assert.Equal(t, 1, all)
	assert.Equal(t, []string{"us-share"}, markets)
	assert.False(t, s.Running())
}

func TestRunNow_SkipsOverlappingRuns(t *testing.T) {
	r := &fakeRunner{release: make(chan struct{})}
	s := newTestScheduler(r)

	done := make(chan bool)
	go func() { done <- s.RunNow("") }()
	require.Eventually(t, s.Running, time.Second, 5*time.Millisecond)

	assert.False(t, s.RunNow("tw-share"))
	assert.Equal(t, "A run is already in progress.", s.HandleCommand("/run"))

	close(r.release)
	assert.True(t, <-done)
	all, markets := r.snapshot()
	assert.Equal(t, 1, all)
	assert.Empty(t, markets)
}

func TestHandleCommand(t *testing.T) {
	r := &fakeRunner{}
	s := newTestScheduler(r)

	assert.Contains(t, s.HandleCommand("/help"), "/run [market]")
	assert.Contains(t, s.HandleCommand("hello"), "/status")
	assert.Equal(t, `Unknown market "jp-share".`, s.HandleCommand("/run jp-share"))
	assert.Contains(t, s.HandleCommand("/status@WarehouseBot"), "coverage 99.5%")

	assert.Equal(t, "Started a run of tw-share.", s.HandleCommand("/run tw-share"))
	require.Eventually(t, func() bool {
		_, markets := r.snapshot()
		return len(markets) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRegister(t *testing.T) {
	s := newTestScheduler(&fakeRunner{})
	require.NoError(t, s.Register("0 30 18 * * 1-5"))
	assert.Len(t, s.Cron.Entries(), 1)
	assert.Error(t, s.Register("not a cron"))
}
