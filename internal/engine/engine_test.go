package engine

import (
	"path/filepath"
	"testing"

	"grid-trader-go/internal/models"
	"grid-trader-go/internal/oracle"
	"grid-trader-go/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubOracle serves fixed prices from a map and reports unknown symbols
// as unavailable.
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

func newTestEngine(t *testing.T, price float64) (*Engine, *storage.Store, int64) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// levels: 10, 12, 14, 16, 18, 20
	id, err := store.CreateStrategy(&models.Strategy{
		Symbol:     "BTCUSDT",
		GridType:   models.GridArithmetic,
		LowerPrice: 10,
		UpperPrice: 20,
		GridCount:  5,
		Capital:    1000,
		OrderSize:  1,
	})
	require.NoError(t, err)

	eng := NewEngine(store, &stubOracle{prices: map[string]float64{"BTCUSDT": price}})
	return eng, store, id
}

func TestInitializeStrategyPlacesBracketOrders(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)

	require.NoError(t, eng.InitializeStrategy(id))

	strat, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyRunning, strat.Status)
	assert.Equal(t, 15.0, strat.CurrentPrice)
	require.NotNil(t, strat.StartedAt)

	// price 15 sits in bracket [14, 16]: buys below, sells above, none at 14
	pending, err := store.GetStrategyOrders(id, models.OrderPending)
	require.NoError(t, err)
	require.Len(t, pending, 5)

	var buys, sells int
	for _, o := range pending {
		switch o.Side {
		case models.Buy:
			buys++
			assert.LessOrEqual(t, o.Price, 12.0)
		case models.Sell:
			sells++
			assert.GreaterOrEqual(t, o.Price, 16.0)
		}
		assert.Equal(t, 1.0, o.Quantity)
		assert.NotEmpty(t, o.ClientOrderID)
	}
	assert.Equal(t, 2, buys)
	assert.Equal(t, 3, sells)
}

func TestInitializeStrategyPriceOutOfRange(t *testing.T) {
	eng, store, id := newTestEngine(t, 25)

	err := eng.InitializeStrategy(id)
	assert.ErrorIs(t, err, ErrPriceOutOfRange)

	strat, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyStopped, strat.Status)

	n, err := store.CountPendingOrders(id)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInitializeStrategyPriceUnavailable(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)
	eng.oracle = &stubOracle{prices: map[string]float64{}}

	err := eng.InitializeStrategy(id)
	assert.ErrorIs(t, err, oracle.ErrPriceUnavailable)

	strat, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyStopped, strat.Status)
}

func TestInitializeStrategyAlreadyRunning(t *testing.T) {
	eng, _, id := newTestEngine(t, 15)

	require.NoError(t, eng.InitializeStrategy(id))
	assert.ErrorIs(t, eng.InitializeStrategy(id), ErrInvalidTransition)
}

func TestProcessFillsBuyAndReplenish(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)
	require.NoError(t, eng.InitializeStrategy(id))

	// drop to 12: only the level-1 buy fills, at the observed price
	filled, err := eng.ProcessFills(id, 12)
	require.NoError(t, err)
	assert.Equal(t, 1, filled)

	pos, err := store.GetPosition(id, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Quantity)
	assert.Equal(t, 12.0, pos.AvgPrice)

	trades, err := store.GetStrategyTrades(id)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.Buy, trades[0].Side)
	assert.Zero(t, trades[0].RealizedPnl)
	assert.InDelta(t, models.FeeRate*12*1, trades[0].Fee, 1e-9)

	// the fill spawns a sell one level up, at 14
	pending, err := store.GetStrategyOrders(id, models.OrderPending)
	require.NoError(t, err)
	require.Len(t, pending, 5)
	var sellAt14 bool
	for _, o := range pending {
		if o.Side == models.Sell && o.Price == 14 {
			sellAt14 = true
			assert.Equal(t, 2, o.GridLevel)
		}
	}
	assert.True(t, sellAt14)

	// same price again: nothing left to fill
	filled, err = eng.ProcessFills(id, 12)
	require.NoError(t, err)
	assert.Zero(t, filled)
}

func TestProcessFillsRoundTripRealizesProfit(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)
	require.NoError(t, eng.InitializeStrategy(id))

	filled, err := eng.ProcessFills(id, 12)
	require.NoError(t, err)
	require.Equal(t, 1, filled)

	// bounce back to 14: the replenished sell fills, closing the lot
	filled, err = eng.ProcessFills(id, 14)
	require.NoError(t, err)
	assert.Equal(t, 1, filled)

	trades, err := store.GetStrategyTrades(id)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.Sell, trades[0].Side)
	assert.InDelta(t, 2.0, trades[0].RealizedPnl, 1e-9) // bought 12, sold 14

	// flat again, position row gone
	_, err = store.GetPosition(id, "BTCUSDT")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// the sell fill replenished a buy one level down
	pending, err := store.GetStrategyOrders(id, models.OrderPending)
	require.NoError(t, err)
	var buyAt12 bool
	for _, o := range pending {
		if o.Side == models.Buy && o.Price == 12 {
			buyAt12 = true
		}
	}
	assert.True(t, buyAt12)
}

func TestProcessFillsCrossesSeveralLevels(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)
	require.NoError(t, eng.InitializeStrategy(id))

	// gap down to the lower bound: both resting buys fill in one pass
	filled, err := eng.ProcessFills(id, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, filled)

	pos, err := store.GetPosition(id, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2.0, pos.Quantity)
	assert.Equal(t, 10.0, pos.AvgPrice) // both filled at the observed price

	// every fill spawns its own replacement, including the level-0 buy whose
	// sell slot at level 1 is only freed by the sibling fill in the same pass
	pending, err := store.GetStrategyOrders(id, models.OrderPending)
	require.NoError(t, err)
	gotLevels := make(map[int]models.Side, len(pending))
	for _, o := range pending {
		gotLevels[o.GridLevel] = o.Side
	}
	assert.Equal(t, map[int]models.Side{
		1: models.Sell,
		2: models.Sell,
		3: models.Sell,
		4: models.Sell,
		5: models.Sell,
	}, gotLevels)
	assert.Len(t, pending, 5)
}

func TestProcessFillsSkipsWhenNotRunning(t *testing.T) {
	eng, _, id := newTestEngine(t, 15)
	require.NoError(t, eng.InitializeStrategy(id))
	require.NoError(t, eng.PauseStrategy(id))

	filled, err := eng.ProcessFills(id, 10)
	require.NoError(t, err)
	assert.Zero(t, filled)
}

func TestPauseAndResume(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)
	require.NoError(t, eng.InitializeStrategy(id))

	require.NoError(t, eng.PauseStrategy(id))
	strat, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyPaused, strat.Status)

	n, err := store.CountPendingOrders(id)
	require.NoError(t, err)
	assert.Zero(t, n)

	// pausing twice is rejected
	assert.ErrorIs(t, eng.PauseStrategy(id), ErrInvalidTransition)

	// resume re-initializes against the current price
	require.NoError(t, eng.ResumeStrategy(id))
	strat, err = store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyRunning, strat.Status)

	n, err = store.CountPendingOrders(id)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.ErrorIs(t, eng.ResumeStrategy(id), ErrInvalidTransition)
}

func TestStopStrategyKeepsPosition(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)
	require.NoError(t, eng.InitializeStrategy(id))

	_, err := eng.ProcessFills(id, 12)
	require.NoError(t, err)

	require.NoError(t, eng.StopStrategy(id, false))

	strat, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyStopped, strat.Status)
	require.NotNil(t, strat.StoppedAt)

	n, err := store.CountPendingOrders(id)
	require.NoError(t, err)
	assert.Zero(t, n)

	// position survives the stop
	pos, err := store.GetPosition(id, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Quantity)

	assert.ErrorIs(t, eng.StopStrategy(id, false), ErrInvalidTransition)
}

func TestStopStrategyClosesPosition(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)
	require.NoError(t, eng.InitializeStrategy(id))

	_, err := eng.ProcessFills(id, 12)
	require.NoError(t, err)

	// the last observed price is what the flatten trades at
	_, err = eng.MarkPrice(id, 13)
	require.NoError(t, err)

	require.NoError(t, eng.StopStrategy(id, true))

	_, err = store.GetPosition(id, "BTCUSDT")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	trades, err := store.GetStrategyTrades(id)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.Sell, trades[0].Side)
	assert.Equal(t, 13.0, trades[0].Price)
	assert.InDelta(t, 1.0, trades[0].RealizedPnl, 1e-9) // bought 12, closed 13
}

func TestMarkPriceIgnoredWhenStopped(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)

	strat, err := eng.MarkPrice(id, 13)
	require.NoError(t, err)
	assert.Zero(t, strat.CurrentPrice)

	got, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentPrice)
}

func TestGetStrategyState(t *testing.T) {
	eng, _, id := newTestEngine(t, 15)
	require.NoError(t, eng.InitializeStrategy(id))

	state, err := eng.GetStrategyState(id)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyRunning, state.Strategy.Status)
	assert.Len(t, state.Orders, 5)
	assert.Equal(t, 15.0, state.CurrentPrice)
	require.Len(t, state.GridLevels, 6)
	assert.Equal(t, 10.0, state.GridLevels[0].Price)
	assert.Equal(t, 20.0, state.GridLevels[5].Price)
}

func TestGetStrategyStateFallsBackToLastPrice(t *testing.T) {
	eng, _, id := newTestEngine(t, 15)
	require.NoError(t, eng.InitializeStrategy(id))

	// live price gone: the view falls back to the persisted observation
	eng.oracle = &stubOracle{prices: map[string]float64{}}

	state, err := eng.GetStrategyState(id)
	require.NoError(t, err)
	assert.Equal(t, 15.0, state.CurrentPrice)
}

func TestCheckRiskControls(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)
	require.NoError(t, eng.InitializeStrategy(id))

	strat, err := store.GetStrategy(id)
	require.NoError(t, err)

	safe, _, err := eng.CheckRiskControls(strat)
	require.NoError(t, err)
	assert.True(t, safe)

	// band breach
	strat.CurrentPrice = 21
	safe, reason, err := eng.CheckRiskControls(strat)
	require.NoError(t, err)
	assert.False(t, safe)
	assert.Contains(t, reason, "区间")

	// stop-loss outranks the band check
	stopLoss := 11.0
	strat.StopLoss = &stopLoss
	strat.CurrentPrice = 9
	safe, reason, err = eng.CheckRiskControls(strat)
	require.NoError(t, err)
	assert.False(t, safe)
	assert.Contains(t, reason, "止损")
}

func TestCheckRiskControlsPendingLimit(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)

	strat, err := store.GetStrategy(id)
	require.NoError(t, err)
	strat.GridCount = 1
	strat.CurrentPrice = 15

	for level := 0; level < 3; level++ {
		_, err := store.CreateOrder(&models.Order{
			StrategyID: id, ClientOrderID: "co", GridLevel: level, Price: 12, Side: models.Buy, Quantity: 1,
		})
		require.NoError(t, err)
	}

	safe, reason, err := eng.CheckRiskControls(strat)
	require.NoError(t, err)
	assert.False(t, safe)
	assert.Contains(t, reason, "挂单")
}

func TestStopStrategyWithNoPositionAndClose(t *testing.T) {
	eng, store, id := newTestEngine(t, 15)
	require.NoError(t, eng.InitializeStrategy(id))

	// nothing to flatten, stop still succeeds cleanly
	require.NoError(t, eng.StopStrategy(id, true))

	trades, err := store.GetStrategyTrades(id)
	require.NoError(t, err)
	assert.Empty(t, trades)
}
