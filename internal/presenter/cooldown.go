package presenter

import (
	"sync"
	"time"
)

// CooldownGate limits how often a user is prompted. A prompt is allowed when
// none was shown before or the previous one is older than the cooldown.
type CooldownGate struct {
	cooldown time.Duration
	last     map[string]time.Time
	mu       sync.Mutex
}

// NewCooldownGate creates a gate
func NewCooldownGate(cooldown time.Duration) *CooldownGate {
	return &CooldownGate{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether a prompt may be shown at the given time and records
// it when allowed
func (g *CooldownGate) Allow(userID string, at time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.last[userID]; ok && at.Sub(last) <= g.cooldown {
		return false
	}
	g.last[userID] = at
	return true
}

// Reset forgets the user's last prompt
func (g *CooldownGate) Reset(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, userID)
}
