// Package sim implements the particle time-stepping executor: the state
// machine that drives particle state forward, aggregates kernel-produced
// deltas, and manages particle lifecycle across a run.
package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/pthm-cable/drift/field"
	"github.com/pthm-cable/drift/kernel"
	"github.com/pthm-cable/drift/particle"
)

// truncStep remembers a particle's own dt while it takes a shortened step to
// land on a stop boundary.
type truncStep struct {
	row int
	dt  float64
}

// RecoveryFunc handles one errored particle. It may call Recover to return
// the particle to the active state or Delete to remove it; a handler that
// recovers without changing the offending state will fail again on the next
// evaluation of the same step.
type RecoveryFunc func(ps *particle.Set, i int)

// Options configures an Executor. Everything is explicit; the only implicit
// default is the dt applied to particles created without one.
type Options struct {
	Compiled       bool
	Seed           int64
	DT             float64
	OutputInterval float64
	Sink           OutputSink
	Recovery       map[ErrorKind]RecoveryFunc
	Releases       []*particle.ReleaseSchedule
	Logger         *slog.Logger
	Print          io.Writer

	// NoInitialOutput suppresses the frame written at run start. Set when
	// resuming a run whose previous leg already wrote that frame.
	NoInitialOutput bool
}

// Executor owns one particle set and advances it through simulated time.
// Execution within one executor is single-threaded over the particle array;
// parallelism happens one level up, in the partitioner.
type Executor struct {
	ps      *particle.Set
	fs      *field.FieldSet
	chain   *kernel.Chain
	backend kernel.Backend
	env     *kernel.EvalEnv
	opts    Options
	log     *slog.Logger

	dt   float64
	sign float64
	tol  float64

	// scratch reused across rounds
	rows    []int
	results []kernel.Result
	trunc   []truncStep

	steps     int
	compacted int
}

// New builds an executor. Grammar and build errors surface here, before any
// particle executes.
func New(ps *particle.Set, fs *field.FieldSet, chain *kernel.Chain, opts Options) (*Executor, error) {
	if opts.DT == 0 {
		return nil, fmt.Errorf("sim: dt must be non-zero")
	}
	backend, err := kernel.NewBackend(chain, opts.Compiled)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	sign := 1.0
	if opts.DT < 0 {
		sign = -1.0
	}
	ex := &Executor{
		ps:      ps,
		fs:      fs,
		chain:   chain,
		backend: backend,
		env: &kernel.EvalEnv{
			Fields: fs,
			Rand:   rand.New(rand.NewSource(opts.Seed)),
			Print:  opts.Print,
		},
		opts: opts,
		log:  log,
		dt:   opts.DT,
		sign: sign,
		tol:  math.Abs(opts.DT) * 1e-5,
	}
	for i := 0; i < ps.Len(); i++ {
		if ps.DT[i] == 0 {
			ps.DT[i] = opts.DT
		}
	}
	return ex, nil
}

// Set returns the executor's particle set.
func (ex *Executor) Set() *particle.Set { return ex.ps }

// before reports whether a is strictly earlier than b in integration
// direction.
func (ex *Executor) before(a, b float64) bool { return ex.sign*(a-b) < -ex.tol }

// RunFor executes for a signed runtime starting at the earliest release.
func (ex *Executor) RunFor(ctx context.Context, runtime float64) (*Report, error) {
	start, ok := ex.startTime()
	if !ok {
		return nil, fmt.Errorf("sim: no particles to execute")
	}
	return ex.Run(ctx, start+ex.sign*math.Abs(runtime))
}

// Run executes until the absolute endtime. Per-particle sampling and state
// errors become particle error states; only chain-level failures abort.
func (ex *Executor) Run(ctx context.Context, endtime float64) (*Report, error) {
	began := time.Now()
	start, ok := ex.startTime()
	if !ok {
		return nil, fmt.Errorf("sim: no particles to execute")
	}
	interval := math.Abs(ex.opts.OutputInterval)

	ex.log.Info("run starting",
		"chain", ex.chain.Name(),
		"particles", ex.ps.Len(),
		"start", start,
		"end", endtime,
		"dt", ex.dt)

	clock := start
	ex.emitReleases(clock)
	ex.activate(clock)
	if !ex.opts.NoInitialOutput {
		if err := ex.writeOutput(clock); err != nil {
			return nil, err
		}
	}

	for ex.before(clock, endtime) {
		if ctx.Err() != nil {
			ex.log.Warn("run cancelled", "clock", clock)
			break
		}

		next := ex.nextStop(start, clock, endtime, interval)

		// Integrate every active particle at its own cadence up to next.
		for {
			ex.rows = ex.rows[:0]
			ex.trunc = ex.trunc[:0]
			for i := 0; i < ex.ps.Len(); i++ {
				if ex.ps.Status[i] != particle.StatusActive {
					continue
				}
				due := ex.ps.Time[i] + ex.ps.DT[i]
				if ex.sign*(due-next) <= ex.tol {
					ex.rows = append(ex.rows, i)
				} else if ex.before(ex.ps.Time[i], next) {
					// A cadence that does not divide the remaining span takes
					// a truncated last step and lands exactly on the stop; the
					// kernel sees the shortened dt, and the particle's own
					// cadence resumes afterwards.
					ex.trunc = append(ex.trunc, truncStep{row: i, dt: ex.ps.DT[i]})
					ex.ps.DT[i] = next - ex.ps.Time[i]
					ex.rows = append(ex.rows, i)
				}
			}
			if len(ex.rows) == 0 {
				break
			}
			if cap(ex.results) < len(ex.rows) {
				ex.results = make([]kernel.Result, len(ex.rows))
			}
			ex.results = ex.results[:len(ex.rows)]

			ex.backend.Evaluate(ex.env, ex.ps, ex.rows, ex.results)
			for j, i := range ex.rows {
				ex.commit(i, ex.results[j])
			}
			for _, tr := range ex.trunc {
				ex.ps.DT[tr.row] = tr.dt
			}
			ex.steps++

			if ctx.Err() != nil {
				break
			}
		}

		clock = next
		ex.emitReleases(clock)
		ex.activate(clock)

		if interval > 0 && ex.atInterval(start, clock, interval) {
			if err := ex.writeOutput(clock); err != nil {
				return nil, err
			}
			ex.compacted += ex.ps.Compact()
		}
	}

	// Final flush at run completion.
	if interval == 0 || !ex.atInterval(start, clock, interval) {
		if err := ex.writeOutput(clock); err != nil {
			return nil, err
		}
	}

	report := buildReport(ex.ps, ex.steps, ex.compacted, time.Since(began))
	ex.log.Info("run finished",
		"steps", report.Steps,
		"completed", report.Completed,
		"deleted", report.Deleted,
		"errored", report.Errored,
		"elapsed", report.Elapsed)
	return report, nil
}

// nextStop picks the next clock target: endtime, the next output time, or
// the next scheduled release, whichever comes first.
func (ex *Executor) nextStop(start, clock, endtime, interval float64) float64 {
	next := endtime
	if interval > 0 {
		elapsed := ex.sign * (clock - start)
		k := math.Floor(elapsed/interval+ex.tol) + 1
		out := start + ex.sign*k*interval
		if ex.before(out, next) {
			next = out
		}
	}
	for _, rs := range ex.opts.Releases {
		if due, ok := rs.NextDue(); ok && ex.before(clock, due) && ex.before(due, next) {
			next = due
		}
	}
	// Deferred particles activate exactly at their release time.
	for i := 0; i < ex.ps.Len(); i++ {
		if ex.ps.Status[i] != particle.StatusInactive {
			continue
		}
		if r := ex.ps.Release[i]; ex.before(clock, r) && ex.before(r, next) {
			next = r
		}
	}
	return next
}

// atInterval reports whether clock sits on an output boundary.
func (ex *Executor) atInterval(start, clock, interval float64) bool {
	elapsed := ex.sign * (clock - start)
	k := math.Round(elapsed / interval)
	return math.Abs(elapsed-k*interval) <= ex.tol
}

// startTime finds the resume point: the earliest current time of an active
// particle, pending release, or scheduled release. Errored rows only count
// when nothing else is runnable, so a partitioned subset of failures still
// yields a report instead of an error.
func (ex *Executor) startTime() (float64, bool) {
	have, haveErr := false, false
	var s, sErr float64
	for i := 0; i < ex.ps.Len(); i++ {
		switch ex.ps.Status[i] {
		case particle.StatusActive:
			if !have || ex.sign*(ex.ps.Time[i]-s) < 0 {
				s, have = ex.ps.Time[i], true
			}
		case particle.StatusInactive:
			if !have || ex.sign*(ex.ps.Release[i]-s) < 0 {
				s, have = ex.ps.Release[i], true
			}
		case particle.StatusError:
			if !haveErr || ex.sign*(ex.ps.Time[i]-sErr) < 0 {
				sErr, haveErr = ex.ps.Time[i], true
			}
		}
	}
	for _, rs := range ex.opts.Releases {
		if due, ok := rs.NextDue(); ok {
			if !have || ex.sign*(due-s) < 0 {
				s, have = due, true
			}
		}
	}
	if !have && haveErr {
		return sErr, true
	}
	return s, have
}

// emitReleases appends particles for every schedule due at or before clock.
func (ex *Executor) emitReleases(clock float64) {
	for _, rs := range ex.opts.Releases {
		for {
			due, ok := rs.NextDue()
			if !ok || ex.before(clock, due) {
				break
			}
			rs.Emit(ex.ps, due, ex.dt)
		}
	}
}

// activate flips inactive particles whose release time has arrived.
func (ex *Executor) activate(clock float64) {
	for i := 0; i < ex.ps.Len(); i++ {
		if ex.ps.Status[i] != particle.StatusInactive {
			continue
		}
		if !ex.before(clock, ex.ps.Release[i]) {
			if ex.ps.DT[i] == 0 {
				ex.ps.DT[i] = ex.dt
			}
			ex.ps.Status[i] = particle.StatusActive
		}
	}
}

// commit applies one evaluation result: summed deltas commit atomically, or
// the particle transitions to the error state and the deltas are discarded.
func (ex *Executor) commit(i int, r kernel.Result) {
	if r.Err != nil {
		ex.fail(i, r.Err)
		return
	}

	newLon := ex.ps.Lon[i] + r.Deltas.Lon
	newLat := ex.ps.Lat[i] + r.Deltas.Lat
	newDepth := ex.ps.Depth[i] + r.Deltas.Depth
	if !particle.ValidPosition(newLon, newLat, newDepth) {
		ex.fail(i, &InvalidStateError{ID: ex.ps.IDs[i], Msg: "non-finite position after delta commit"})
		return
	}

	ex.ps.Lon[i] = newLon
	ex.ps.Lat[i] = newLat
	ex.ps.Depth[i] = newDepth
	ex.ps.Time[i] += ex.ps.DT[i]

	if r.Delete {
		ex.ps.Delete(i)
	}
}

// fail marks the particle errored and gives the matching recovery handler a
// chance to resolve it.
func (ex *Executor) fail(i int, err error) {
	ex.ps.SetError(i, err.Error())
	ex.log.Warn("particle error",
		"id", ex.ps.IDs[i],
		"time", ex.ps.Time[i],
		"reason", err.Error())
	if h, ok := ex.opts.Recovery[Classify(err)]; ok {
		h(ex.ps, i)
	}
}

func (ex *Executor) writeOutput(t float64) error {
	if ex.opts.Sink == nil {
		return nil
	}
	if err := ex.opts.Sink.Write(t, snapshotSet(ex.ps, t)); err != nil {
		return fmt.Errorf("sim: output sink: %w", err)
	}
	return nil
}
