package settings

import (
	"sync"

	"github.com/aifolio/invest-bot/internal/model"
)

// Registry holds the process-wide asset-class toggles. The scheduler
// snapshots them once at the start of each cycle, so a change mid-cycle
// never affects the cycle already in flight.
type Registry struct {
	mu sync.RWMutex
	s  model.Settings
}

func NewRegistry() *Registry {
	return &Registry{
		s: model.Settings{Stocks: true, Crypto: true, Polymarket: true},
	}
}

func (r *Registry) Get() model.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s
}

// Update applies a partial patch and returns the resulting settings.
func (r *Registry) Update(patch model.SettingsPatch) model.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()

	if patch.Stocks != nil {
		r.s.Stocks = *patch.Stocks
	}
	if patch.Crypto != nil {
		r.s.Crypto = *patch.Crypto
	}
	if patch.Polymarket != nil {
		r.s.Polymarket = *patch.Polymarket
	}
	return r.s
}
