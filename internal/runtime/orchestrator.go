package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pulsar-rules/pulsar/internal/buffer"
	"github.com/pulsar-rules/pulsar/internal/domain"
)

var tracer = otel.Tracer("pulsar-runtime")

// Options tune the orchestrator beyond what the plan carries.
type Options struct {
	// CycleTimeMs overrides the plan's cadence when positive.
	CycleTimeMs int

	// BufferCapacity overrides the plan's ring capacity when positive.
	BufferCapacity int

	// MaxWorkers bounds intra-group parallelism; <=0 means 16.
	MaxWorkers int

	// Bus carries send_message publications; nil drops them with a warning.
	Bus domain.MessageBus

	// Journal records cycle history; nil disables journaling.
	Journal domain.Journal

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time
}

// Orchestrator runs the compiled plan on a fixed cadence against the store.
// Cycles never overlap; an overlong cycle increments the skew counter and the
// next cycle starts immediately.
type Orchestrator struct {
	program *Program
	store   domain.SensorStore
	bus     domain.MessageBus
	journal domain.Journal

	buffers   *buffer.Set
	counters  *Counters
	cycleTime time.Duration
	workers   int
	parallel  bool
	clock     func() time.Time

	active atomic.Bool
	cycle  atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires an orchestrator for a loaded program.
func New(program *Program, store domain.SensorStore, opts Options) (*Orchestrator, error) {
	coord := program.Plan.Coordinator

	cycleMs := coord.CycleTimeMs
	if opts.CycleTimeMs > 0 {
		cycleMs = opts.CycleTimeMs
	}
	if cycleMs <= 0 {
		return nil, fmt.Errorf("cycle time must be positive, got %d ms", cycleMs)
	}

	capacity := coord.BufferCapacity
	if opts.BufferCapacity > 0 {
		capacity = opts.BufferCapacity
	}
	if capacity <= 0 {
		capacity = domain.DefaultBufferCapacity
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = 16
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	o := &Orchestrator{
		program:   program,
		store:     store,
		bus:       opts.Bus,
		journal:   opts.Journal,
		buffers:   buffer.NewSet(capacity),
		counters:  NewCounters(),
		cycleTime: time.Duration(cycleMs) * time.Millisecond,
		workers:   workers,
		parallel:  coord.GroupParallelRules,
		clock:     clock,
	}
	o.active.Store(true)
	return o, nil
}

// Start launches the cadence task. It returns immediately; Stop ends it.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done != nil {
		return fmt.Errorf("orchestrator already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	go o.loop(runCtx)

	slog.Info("orchestrator started",
		"cycle_ms", o.cycleTime.Milliseconds(),
		"groups", len(o.program.Groups),
		"rules", o.program.Plan.RuleCount(),
	)
	return nil
}

// Stop requests cooperative cancellation: the current cycle runs to
// completion, bounded by a hard deadline of twice the cycle time.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(2 * o.cycleTime):
		return fmt.Errorf("cycle did not finish within %s", 2*o.cycleTime)
	}
}

// SetActive flips the external active/passive signal. While passive, no
// cycles run; buffers are retained.
func (o *Orchestrator) SetActive(active bool) {
	was := o.active.Swap(active)
	if was != active {
		slog.Info("activity changed", "active", active)
	}
}

// Active reports the current activity signal.
func (o *Orchestrator) Active() bool { return o.active.Load() }

// Status returns a snapshot of runtime health.
func (o *Orchestrator) Status() Status {
	return o.counters.Snapshot(o.active.Load())
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)
	for {
		start := o.clock()
		if o.active.Load() {
			if err := o.Cycle(ctx); err != nil {
				o.counters.StoreErrors.Add(1)
				slog.Error("cycle failed", "cycle", o.cycle.Load(), "error", err)
			}
		}
		elapsed := o.clock().Sub(start)
		if elapsed > o.cycleTime {
			o.counters.Skews.Add(1)
			// next cycle starts immediately
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cycleTime - elapsed):
		}
	}
}

// Cycle performs one full evaluation pass: snapshot read, buffer update,
// group evaluation in plan order, batched write-back.
func (o *Orchestrator) Cycle(ctx context.Context) error {
	n := o.cycle.Add(1)
	start := o.clock()

	ctx, span := tracer.Start(ctx, "cycle",
		trace.WithAttributes(attribute.Int64("pulsar.cycle", int64(n))),
	)
	defer span.End()

	read, err := o.store.GetMany(ctx, o.program.Plan.InputSensors)
	if err != nil {
		return fmt.Errorf("snapshot read: %w", err)
	}
	snap := NewSnapshot(read)

	// every numeric sensor read this cycle feeds its ring buffer; buffered
	// values become visible to threshold conditions this same cycle
	nowMs := start.UnixMilli()
	for sensor, v := range read {
		if v.Numeric {
			o.buffers.Ring(sensor).Add(nowMs, v.Num)
		}
	}

	writeSet := make(map[string]domain.Value)
	fired := 0
	errs := 0

	for _, group := range o.program.Groups {
		results := o.evalGroup(group, snap)

		// apply in emission order: later writers win within the group, and
		// the folded snapshot is what later groups observe
		for _, res := range results {
			if res.Err != nil {
				errs++
				o.counters.ruleError(res.Rule.Plan.Name)
				slog.Error("rule evaluation failed",
					"rule", res.Rule.Plan.Name,
					"cycle", n,
					"error", res.Err,
				)
				o.recordRuleError(ctx, n, res.Rule.Plan.Name, res.Err)
				continue
			}
			if !res.Fired {
				continue
			}
			fired++
			o.counters.ruleFired(res.Rule.Plan.Name)
			for _, w := range res.Writes {
				snap.set(w.Key, w.Value)
				writeSet[w.Key] = w.Value
			}
			for _, m := range res.Messages {
				o.publish(ctx, m)
			}
		}
	}

	if len(writeSet) > 0 {
		if err := o.store.SetMany(ctx, writeSet); err != nil {
			return fmt.Errorf("flush writes: %w", err)
		}
	}

	elapsed := o.clock().Sub(start)
	o.counters.Cycles.Add(1)
	o.counters.LastCycleMs.Store(elapsed.Milliseconds())

	if o.journal != nil {
		rec := &domain.CycleRecord{
			Cycle:      n,
			StartedAt:  start,
			DurationMs: elapsed.Milliseconds(),
			RulesFired: fired,
			WriteCount: len(writeSet),
			ErrorCount: errs,
			Skewed:     elapsed > o.cycleTime,
		}
		if err := o.journal.RecordCycle(ctx, rec); err != nil {
			slog.Warn("journal write failed", "cycle", n, "error", err)
		}
	}
	return nil
}

// evalGroup evaluates one group's rules, concurrently when the plan allows,
// returning results in emission order.
func (o *Orchestrator) evalGroup(group []*CompiledRule, snap *Snapshot) []*RuleResult {
	results := make([]*RuleResult, len(group))

	if !o.parallel || len(group) == 1 {
		// a fired rule's writes are folded in at once, so a consumer placed
		// after its producer in a cross-layer group observes them
		for i, r := range group {
			results[i] = r.Evaluate(snap, o.buffers)
			if res := results[i]; res.Err == nil && res.Fired {
				for _, w := range res.Writes {
					snap.set(w.Key, w.Value)
				}
			}
		}
		return results
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.workers)
	for i, r := range group {
		wg.Add(1)
		go func(idx int, cr *CompiledRule) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = cr.Evaluate(snap, o.buffers)
		}(i, r)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) publish(ctx context.Context, m Message) {
	if o.bus == nil {
		slog.Warn("send_message dropped: no bus configured", "channel", m.Channel)
		return
	}
	if err := o.bus.Publish(ctx, m.Channel, m.Payload); err != nil {
		o.counters.StoreErrors.Add(1)
		slog.Error("publish failed", "channel", m.Channel, "error", err)
	}
}

func (o *Orchestrator) recordRuleError(ctx context.Context, cycle uint64, rule string, err error) {
	if o.journal == nil {
		return
	}
	rec := &domain.RuleErrorRecord{
		Cycle:      cycle,
		RuleName:   rule,
		Kind:       "expression",
		Detail:     err.Error(),
		OccurredAt: o.clock(),
	}
	if jerr := o.journal.RecordRuleError(ctx, rec); jerr != nil {
		slog.Warn("journal write failed", "rule", rule, "error", jerr)
	}
}
