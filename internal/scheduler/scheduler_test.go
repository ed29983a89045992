package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"grid-trader-go/internal/engine"
	"grid-trader-go/internal/models"
	"grid-trader-go/internal/oracle"
	"grid-trader-go/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOracle struct {
	prices map[string]float64
}

func (s *stubOracle) GetPrice(symbol string) (float64, error) {
	p, ok := s.prices[symbol]
	if !ok {
		return 0, oracle.ErrPriceUnavailable
	}
	return p, nil
}

type recordingWatcher struct {
	symbols []string
}

func (w *recordingWatcher) Watch(symbol string) {
	w.symbols = append(w.symbols, symbol)
}

func newTestScheduler(t *testing.T, prices map[string]float64) (*Scheduler, *storage.Store, *engine.Engine, *stubOracle) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	o := &stubOracle{prices: prices}
	eng := engine.NewEngine(store, o)
	return New(store, eng, o, 5*time.Second), store, eng, o
}

func createStrategy(t *testing.T, store *storage.Store, symbol string) int64 {
	t.Helper()
	id, err := store.CreateStrategy(&models.Strategy{
		Symbol:     symbol,
		GridType:   models.GridArithmetic,
		LowerPrice: 10,
		UpperPrice: 20,
		GridCount:  5,
		Capital:    1000,
		OrderSize:  1,
	})
	require.NoError(t, err)
	return id
}

func TestTickProcessesRunningStrategies(t *testing.T) {
	sched, store, eng, o := newTestScheduler(t, map[string]float64{"BTCUSDT": 15})
	id := createStrategy(t, store, "BTCUSDT")
	require.NoError(t, eng.InitializeStrategy(id))

	// price drops onto a grid line: the tick marks the price and fills the buy
	o.prices["BTCUSDT"] = 12
	sched.Tick()

	strat, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, 12.0, strat.CurrentPrice)

	pos, err := store.GetPosition(id, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Quantity)
}

func TestTickSkipsStoppedStrategies(t *testing.T) {
	sched, store, _, _ := newTestScheduler(t, map[string]float64{"BTCUSDT": 15})
	id := createStrategy(t, store, "BTCUSDT")

	sched.Tick()

	strat, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyStopped, strat.Status)
	assert.Zero(t, strat.CurrentPrice)
}

func TestTickSkipsOnMissingPrice(t *testing.T) {
	sched, store, eng, o := newTestScheduler(t, map[string]float64{"BTCUSDT": 15})
	id := createStrategy(t, store, "BTCUSDT")
	require.NoError(t, eng.InitializeStrategy(id))

	// feed goes dark: the strategy keeps running untouched
	delete(o.prices, "BTCUSDT")
	sched.Tick()

	strat, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyRunning, strat.Status)
	assert.Equal(t, 15.0, strat.CurrentPrice)
}

func TestTickIsolatesStrategies(t *testing.T) {
	sched, store, eng, o := newTestScheduler(t, map[string]float64{
		"BTCUSDT": 15,
		"ETHUSDT": 15,
	})
	id1 := createStrategy(t, store, "BTCUSDT")
	id2 := createStrategy(t, store, "ETHUSDT")
	require.NoError(t, eng.InitializeStrategy(id1))
	require.NoError(t, eng.InitializeStrategy(id2))

	// one feed dies, the other strategy still advances
	delete(o.prices, "BTCUSDT")
	o.prices["ETHUSDT"] = 12
	sched.Tick()

	pos, err := store.GetPosition(id2, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Quantity)
}

func TestTickForceStopsOnRiskBreach(t *testing.T) {
	sched, store, eng, o := newTestScheduler(t, map[string]float64{"BTCUSDT": 15})
	id := createStrategy(t, store, "BTCUSDT")
	require.NoError(t, eng.InitializeStrategy(id))

	_, err := eng.ProcessFills(id, 12)
	require.NoError(t, err)

	// price escapes the band: force-stop, pending orders gone, position kept
	o.prices["BTCUSDT"] = 22
	sched.Tick()

	strat, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyStopped, strat.Status)

	n, err := store.CountPendingOrders(id)
	require.NoError(t, err)
	assert.Zero(t, n)

	pos, err := store.GetPosition(id, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Quantity)
}

func TestTickNotifiesWatcher(t *testing.T) {
	sched, store, eng, _ := newTestScheduler(t, map[string]float64{"BTCUSDT": 15})
	id := createStrategy(t, store, "BTCUSDT")
	require.NoError(t, eng.InitializeStrategy(id))

	w := &recordingWatcher{}
	sched.SetWatcher(w)
	sched.Tick()

	assert.Equal(t, []string{"BTCUSDT"}, w.symbols)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sched, _, _, _ := newTestScheduler(t, nil)
	sched.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
