// Package cache memoizes derived state and the time-windowed allowance
// scalars read by the UI.
//
// Any change to the log drops everything. Allowance scalars are also keyed
// by the window they were computed for, so a read after a reset boundary
// recomputes even when no event was appended.
package cache

import (
	"sync"
	"time"

	"github.com/marcus/sprout/internal/derive"
	"github.com/marcus/sprout/internal/event"
)

// Source is the event log as seen by the cache.
type Source interface {
	Events() []event.Event
	OnChange(fn func())
}

type scalar struct {
	window time.Time
	value  int
	valid  bool
}

// Cache is safe for concurrent use.
type Cache struct {
	src   Source
	rules derive.Rules
	clock func() time.Time

	mu          sync.Mutex
	state       *derive.State
	water       scalar
	expansions  scalar
	derivations int
}

// New creates a cache over src and registers for change notifications.
// A nil clock means time.Now.
func New(src Source, rules derive.Rules, clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	c := &Cache{src: src, rules: rules, clock: clock}
	src.OnChange(c.Invalidate)
	return c
}

// Invalidate drops every memoized value.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.state = nil
	c.water = scalar{}
	c.expansions = scalar{}
	c.mu.Unlock()
}

// State returns the derived state, folding the log only when it changed.
// The returned State is shared and must not be modified.
func (c *Cache) State() *derive.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Cache) stateLocked() *derive.State {
	if c.state == nil {
		c.state = derive.Derive(c.src.Events(), c.rules)
		c.derivations++
	}
	return c.state
}

// WaterUsesRemaining returns how many trickle-paying waterings are left in
// the daily window containing now.
func (c *Cache) WaterUsesRemaining(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.rules.Boundary.DayStart(now)
	if !c.water.valid || !c.water.window.Equal(start) {
		used := c.stateLocked().WaterUsesIn(start)
		c.water = scalar{window: start, value: max(0, c.rules.DailyWaterAllowance-used), valid: true}
	}
	return c.water.value
}

// ExpansionsRemaining returns how many expansions are left in the weekly
// window containing now.
func (c *Cache) ExpansionsRemaining(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.rules.Boundary.WeekStart(now)
	if !c.expansions.valid || !c.expansions.window.Equal(start) {
		used := c.stateLocked().ExpansionsIn(start)
		c.expansions = scalar{window: start, value: max(0, c.rules.WeeklyExpandAllowance-used), valid: true}
	}
	return c.expansions.value
}

// Allowances is a snapshot of the windowed scalars at one instant.
type Allowances struct {
	WaterRemaining     int       `json:"water_remaining"`
	NextDailyReset     time.Time `json:"next_daily_reset"`
	ExpansionRemaining int       `json:"expansion_remaining"`
	NextWeeklyReset    time.Time `json:"next_weekly_reset"`
}

// Allowances reads the windowed scalars at the cache's clock.
func (c *Cache) Allowances() Allowances {
	now := c.clock()
	return Allowances{
		WaterRemaining:     c.WaterUsesRemaining(now),
		NextDailyReset:     c.rules.Boundary.NextDailyReset(now),
		ExpansionRemaining: c.ExpansionsRemaining(now),
		NextWeeklyReset:    c.rules.Boundary.NextWeeklyReset(now),
	}
}

// Derivations returns how many times the log has been folded.
func (c *Cache) Derivations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.derivations
}

// Rules returns the rules the cache folds with.
func (c *Cache) Rules() derive.Rules {
	return c.rules
}
