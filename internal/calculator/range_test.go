package calculator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketWarehouse/internal/model"
)

func bar(high, low, close float64) model.PriceBar {
	return model.PriceBar{High: high, Low: low, Close: close, Open: close}
}

func TestWindowRange(t *testing.T) {
	bars := []model.PriceBar{bar(50, 1, 10), bar(12, 9, 11), bar(14, 10, 13), bar(13, 8, 9)}

	high, low, err := WindowRange(bars, 3)
	require.NoError(t, err)
	assert.Equal(t, 14.0, high)
	assert.Equal(t, 8.0, low)

	high, low, err = WindowRange(bars, 10)
	require.NoError(t, err)
	assert.Equal(t, 50.0, high)
	assert.Equal(t, 1.0, low)

	_, _, err = WindowRange(nil, 3)
	assert.Error(t, err)
}

func TestWindowMove(t *testing.T) {
	bars := []model.PriceBar{bar(11, 9, 10), bar(12, 9, 11), bar(15, 10, 13), bar(13, 8, 12)}

	m := WindowMove(bars, 3)
	assert.InDelta(t, 50.0, m.High, 1e-9)
	assert.InDelta(t, 20.0, m.Close, 1e-9)
	assert.InDelta(t, -20.0, m.Low, 1e-9)
}

func TestWindowMove_ShortHistoryIsZero(t *testing.T) {
	bars := []model.PriceBar{bar(11, 9, 10), bar(12, 9, 11), bar(15, 10, 13)}
	assert.Equal(t, Move{}, WindowMove(bars, 3))
	assert.Equal(t, Move{}, WindowMove(bars, 5))
	assert.Equal(t, Move{}, WindowMove(nil, 5))
}
