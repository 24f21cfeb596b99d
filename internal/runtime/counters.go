package runtime

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counters tracks runtime health; all methods are safe for concurrent use.
type Counters struct {
	Cycles      atomic.Uint64
	Skews       atomic.Uint64
	StoreErrors atomic.Uint64
	RuleErrors  atomic.Uint64

	LastCycleMs atomic.Int64

	mu    sync.Mutex
	rules map[string]*ruleStats
}

type ruleStats struct {
	fired  uint64
	errors uint64
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	return &Counters{rules: make(map[string]*ruleStats)}
}

func (c *Counters) ruleFired(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats(name).fired++
}

func (c *Counters) ruleError(name string) {
	c.RuleErrors.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats(name).errors++
}

func (c *Counters) stats(name string) *ruleStats {
	s, ok := c.rules[name]
	if !ok {
		s = &ruleStats{}
		c.rules[name] = s
	}
	return s
}

// RuleStatus is the per-rule slice of a status snapshot.
type RuleStatus struct {
	Name   string `json:"name"`
	Fired  uint64 `json:"fired"`
	Errors uint64 `json:"errors"`
}

// Status is a point-in-time view of runtime health for the status API.
type Status struct {
	Active      bool         `json:"active"`
	Cycles      uint64       `json:"cycles"`
	Skews       uint64       `json:"skews"`
	StoreErrors uint64       `json:"store_errors"`
	RuleErrors  uint64       `json:"rule_errors"`
	LastCycleMs int64        `json:"last_cycle_ms"`
	Rules       []RuleStatus `json:"rules"`
}

// Snapshot collects the current counter values.
func (c *Counters) Snapshot(active bool) Status {
	st := Status{
		Active:      active,
		Cycles:      c.Cycles.Load(),
		Skews:       c.Skews.Load(),
		StoreErrors: c.StoreErrors.Load(),
		RuleErrors:  c.RuleErrors.Load(),
		LastCycleMs: c.LastCycleMs.Load(),
	}
	c.mu.Lock()
	for name, s := range c.rules {
		st.Rules = append(st.Rules, RuleStatus{Name: name, Fired: s.fired, Errors: s.errors})
	}
	c.mu.Unlock()
	sort.Slice(st.Rules, func(i, j int) bool { return st.Rules[i].Name < st.Rules[j].Name })
	return st
}
