package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUSMarketOpen(t *testing.T) {
	// Wednesday 2026-01-07.
	assert.True(t, USMarketOpen(time.Date(2026, 1, 7, 15, 0, 0, 0, time.UTC)))
	assert.True(t, USMarketOpen(time.Date(2026, 1, 7, 13, 30, 0, 0, time.UTC)))
	assert.True(t, USMarketOpen(time.Date(2026, 1, 7, 21, 0, 0, 0, time.UTC)))

	assert.False(t, USMarketOpen(time.Date(2026, 1, 7, 13, 29, 0, 0, time.UTC)))
	assert.False(t, USMarketOpen(time.Date(2026, 1, 7, 21, 1, 0, 0, time.UTC)))
	assert.False(t, USMarketOpen(time.Date(2026, 1, 7, 3, 0, 0, 0, time.UTC)))

	// Weekend.
	assert.False(t, USMarketOpen(time.Date(2026, 1, 10, 15, 0, 0, 0, time.UTC)))
	assert.False(t, USMarketOpen(time.Date(2026, 1, 11, 15, 0, 0, 0, time.UTC)))
}
