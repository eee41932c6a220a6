package partition

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/pthm-cable/drift/field"
	"github.com/pthm-cable/drift/kernel"
	"github.com/pthm-cable/drift/particle"
	"github.com/pthm-cable/drift/sim"
)

// FieldSetProvider builds a worker-local field set instance. Each worker
// owns its own copy so no field data is shared mutably across workers; for
// chunked fields this is what triggers per-worker loading of only the
// chunks the worker's particles touch.
type FieldSetProvider func() (*field.FieldSet, error)

// Options configures a partitioned run.
type Options struct {
	Workers        int
	RebalanceEvery int // output intervals between repartitions (0 = never)
	Executor       sim.Options
	Logger         *slog.Logger
}

// Runner executes a particle set across workers. Each worker owns an
// independent executor over a disjoint, spatially local subset; the only
// coordination points are segment boundaries, where subsets merge back,
// repartition, and redistribute.
type Runner struct {
	chain    *kernel.Chain
	provider FieldSetProvider
	opts     Options
	log      *slog.Logger
}

// NewRunner builds a partitioned runner for a chain.
func NewRunner(chain *kernel.Chain, provider FieldSetProvider, opts Options) (*Runner, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("partition: workers must be >= 1")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{chain: chain, provider: provider, opts: opts, log: log}, nil
}

// workerResult travels back from a worker at a segment boundary.
type workerResult struct {
	worker int
	subset *particle.Set
	report *sim.Report
	err    error
}

// Run executes ps until endtime, repartitioning at the configured cadence.
// The merged report covers all workers.
func (r *Runner) Run(ctx context.Context, ps *particle.Set, endtime float64) (*sim.Report, error) {
	dt := r.opts.Executor.DT
	if dt == 0 {
		return nil, fmt.Errorf("partition: executor dt must be non-zero")
	}
	sign := 1.0
	if dt < 0 {
		sign = -1.0
	}

	// Segment length: rebalance cadence in output intervals, or the whole
	// run when rebalancing is off.
	segment := math.Inf(1)
	if r.opts.RebalanceEvery > 0 && r.opts.Executor.OutputInterval > 0 {
		segment = float64(r.opts.RebalanceEvery) * math.Abs(r.opts.Executor.OutputInterval)
	}

	var sink sim.OutputSink
	if r.opts.Executor.Sink != nil {
		sink = &lockedSink{inner: r.opts.Executor.Sink}
	}

	total := &sim.Report{}
	var last *sim.Report
	clock := startOf(ps, sign)
	first := true

	for sign*(clock-endtime) < 0 {
		segEnd := endtime
		if !math.IsInf(segment, 1) {
			if stop := clock + sign*segment; sign*(stop-endtime) < 0 {
				segEnd = stop
			}
		}

		rows := make([]int, 0, ps.Len())
		for i := 0; i < ps.Len(); i++ {
			rows = append(rows, i)
		}
		parts := KDSplit(ps.Lon, ps.Lat, rows, r.opts.Workers)
		r.log.Info("partitioned particles",
			"workers", r.opts.Workers, "total", len(rows), "until", segEnd)

		results := make(chan workerResult, len(parts))
		var wg sync.WaitGroup
		for w, part := range parts {
			subset := ps.Extract(part)
			wg.Add(1)
			go func(w int, subset *particle.Set) {
				defer wg.Done()
				results <- r.runWorker(ctx, w, subset, segEnd, sink, first)
			}(w, subset)
		}
		wg.Wait()
		close(results)

		// Merge back in worker order for deterministic redistribution.
		merged := make([]*particle.Set, len(parts))
		segReports := make([]*sim.Report, len(parts))
		for res := range results {
			if res.err != nil {
				return nil, fmt.Errorf("partition: worker %d: %w", res.worker, res.err)
			}
			merged[res.worker] = res.subset
			segReports[res.worker] = res.report
		}
		next := merged[0]
		for _, sub := range merged[1:] {
			next.Absorb(sub)
		}
		next.Compact()
		*ps = *next

		// Steps, deletions and wall time accumulate across segments; the
		// final segment's merged report describes the surviving particles.
		last = sim.MergeReports(segReports...)
		total.Steps += last.Steps
		total.Deleted += last.Deleted
		total.Elapsed += last.Elapsed

		clock = segEnd
		first = false
	}

	if last == nil {
		return nil, fmt.Errorf("partition: nothing to run (clock %v already past endtime %v)", clock, endtime)
	}
	last.Steps = total.Steps
	last.Deleted = total.Deleted
	last.Elapsed = total.Elapsed
	return last, nil
}

// runWorker owns one executor for one segment. Workers share nothing
// mutable: the subset, field set and RNG are all worker-local.
func (r *Runner) runWorker(ctx context.Context, w int, subset *particle.Set, segEnd float64, sink sim.OutputSink, first bool) workerResult {
	// An empty share (more workers than particles) has nothing to run,
	// unless it is worker 0 carrying the release schedules.
	if subset.Len() == 0 && (w != 0 || len(r.opts.Executor.Releases) == 0) {
		return workerResult{worker: w, subset: subset, report: &sim.Report{}}
	}

	fs, err := r.provider()
	if err != nil {
		return workerResult{worker: w, err: fmt.Errorf("loading fields: %w", err)}
	}

	opts := r.opts.Executor
	opts.Sink = sink
	opts.Seed = opts.Seed + int64(w)
	opts.NoInitialOutput = !first
	if w != 0 {
		// Release schedules stay on worker 0 so particle ids never collide.
		opts.Releases = nil
	}
	opts.Logger = r.log.With("worker", w)

	ex, err := sim.New(subset, fs, r.chain, opts)
	if err != nil {
		return workerResult{worker: w, err: err}
	}
	report, err := ex.Run(ctx, segEnd)
	if err != nil {
		return workerResult{worker: w, err: err}
	}
	return workerResult{worker: w, subset: subset, report: report}
}

func startOf(ps *particle.Set, sign float64) float64 {
	have := false
	var s float64
	for i := 0; i < ps.Len(); i++ {
		if !have || sign*(ps.Release[i]-s) < 0 {
			s, have = ps.Release[i], true
		}
	}
	return s
}

// lockedSink serializes concurrent worker writes to one shared sink. Each
// Write call is atomic; rows from different workers interleave only at
// whole-batch granularity.
type lockedSink struct {
	mu    sync.Mutex
	inner sim.OutputSink
}

func (s *lockedSink) Write(t float64, snaps []sim.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Write(t, snaps)
}

func (s *lockedSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Close()
}
