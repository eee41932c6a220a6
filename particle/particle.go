// Package particle implements the schema-driven structure-of-arrays particle
// store: one column per variable, owned exclusively by the set, with stable
// integer ids and a lifecycle status per row.
package particle

import (
	"fmt"
	"math"
)

// Status is the lifecycle tag of one particle.
type Status uint8

const (
	// StatusActive particles are integrated every step.
	StatusActive Status = iota
	// StatusInactive particles await their release time.
	StatusInactive
	// StatusError particles are excluded from integration but retained for
	// output. Recoverable only through a recovery kernel.
	StatusError
	// StatusDeleted is terminal; the row is logically removed and reclaimed
	// on the next compaction.
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusError:
		return "error"
	case StatusDeleted:
		return "deleted"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Set is the particle collection: a structure of arrays with one column per
// variable. Rows are addressed by index; identity is the stable ID column.
type Set struct {
	schema *Schema

	IDs     []int64
	Lon     []float64
	Lat     []float64
	Depth   []float64
	Time    []float64 // per-particle simulation time
	DT      []float64 // per-particle integration step
	Release []float64 // activation time for deferred releases
	Status  []Status
	Reason  []string // error reason, "" unless Status is StatusError

	vars   [][]float64 // user columns, schema order
	nextID int64
}

// NewSet allocates a set with one particle per (lon, lat) pair. depths,
// times and dts may be nil (zero depth, zero start time, dt filled in by the
// executor) or must match len(lons).
func NewSet(schema *Schema, lons, lats, depths, times []float64, dt float64) (*Set, error) {
	n := len(lons)
	if len(lats) != n {
		return nil, fmt.Errorf("particle: %d lons but %d lats", n, len(lats))
	}
	if depths != nil && len(depths) != n {
		return nil, fmt.Errorf("particle: %d lons but %d depths", n, len(depths))
	}
	if times != nil && len(times) != n {
		return nil, fmt.Errorf("particle: %d lons but %d times", n, len(times))
	}

	s := &Set{schema: schema}
	s.vars = make([][]float64, len(schema.Vars()))
	for i := range s.vars {
		s.vars[i] = make([]float64, 0, n)
	}
	for i := 0; i < n; i++ {
		depth, start := 0.0, 0.0
		if depths != nil {
			depth = depths[i]
		}
		if times != nil {
			start = times[i]
		}
		s.Add(lons[i], lats[i], depth, start, dt)
	}
	return s, nil
}

// Add appends one particle and returns its id. release is the simulation
// time at which the particle activates; the executor flips it to Active when
// the clock reaches that time.
func (s *Set) Add(lon, lat, depth, release, dt float64) int64 {
	id := s.nextID
	s.nextID++
	s.IDs = append(s.IDs, id)
	s.Lon = append(s.Lon, lon)
	s.Lat = append(s.Lat, lat)
	s.Depth = append(s.Depth, depth)
	s.Time = append(s.Time, release)
	s.DT = append(s.DT, dt)
	s.Release = append(s.Release, release)
	s.Status = append(s.Status, StatusInactive)
	s.Reason = append(s.Reason, "")
	for vi, v := range s.schema.Vars() {
		s.vars[vi] = append(s.vars[vi], v.Default)
	}
	return id
}

// Len returns the number of stored rows, including logically deleted ones
// awaiting compaction.
func (s *Set) Len() int { return len(s.IDs) }

// Schema returns the user-variable schema.
func (s *Set) Schema() *Schema { return s.schema }

// Var returns the column for a named user variable.
func (s *Set) Var(name string) ([]float64, bool) {
	i, ok := s.schema.Index(name)
	if !ok {
		return nil, false
	}
	return s.vars[i], true
}

// VarByIndex returns the user column at schema index i.
func (s *Set) VarByIndex(i int) []float64 { return s.vars[i] }

// SetError marks row i as errored with a reason.
func (s *Set) SetError(i int, reason string) {
	s.Status[i] = StatusError
	s.Reason[i] = reason
}

// Recover flips an errored row back to Active and clears the reason.
func (s *Set) Recover(i int) {
	s.Status[i] = StatusActive
	s.Reason[i] = ""
}

// Delete marks row i as terminally deleted. The row stops participating in
// iteration immediately; storage is reclaimed by Compact.
func (s *Set) Delete(i int) {
	s.Status[i] = StatusDeleted
}

// ValidPosition reports whether (lon, lat, depth) is a finite position. The
// executor checks candidate positions against it before committing deltas.
func ValidPosition(lon, lat, depth float64) bool {
	return finite(lon) && finite(lat) && finite(depth)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Compact removes deleted rows in place, preserving relative order of the
// survivors. Returns the number of rows removed.
func (s *Set) Compact() int {
	w := 0
	for r := 0; r < len(s.IDs); r++ {
		if s.Status[r] == StatusDeleted {
			continue
		}
		if w != r {
			s.IDs[w] = s.IDs[r]
			s.Lon[w] = s.Lon[r]
			s.Lat[w] = s.Lat[r]
			s.Depth[w] = s.Depth[r]
			s.Time[w] = s.Time[r]
			s.DT[w] = s.DT[r]
			s.Release[w] = s.Release[r]
			s.Status[w] = s.Status[r]
			s.Reason[w] = s.Reason[r]
			for vi := range s.vars {
				s.vars[vi][w] = s.vars[vi][r]
			}
		}
		w++
	}
	removed := len(s.IDs) - w
	s.IDs = s.IDs[:w]
	s.Lon = s.Lon[:w]
	s.Lat = s.Lat[:w]
	s.Depth = s.Depth[:w]
	s.Time = s.Time[:w]
	s.DT = s.DT[:w]
	s.Release = s.Release[:w]
	s.Status = s.Status[:w]
	s.Reason = s.Reason[:w]
	for vi := range s.vars {
		s.vars[vi] = s.vars[vi][:w]
	}
	return removed
}

// Extract copies the listed rows into a new set sharing the schema. Ids are
// preserved; the copy continues id allocation from the parent's counter.
func (s *Set) Extract(rows []int) *Set {
	n := len(rows)
	out := &Set{
		schema:  s.schema,
		IDs:     make([]int64, 0, n),
		Lon:     make([]float64, 0, n),
		Lat:     make([]float64, 0, n),
		Depth:   make([]float64, 0, n),
		Time:    make([]float64, 0, n),
		DT:      make([]float64, 0, n),
		Release: make([]float64, 0, n),
		Status:  make([]Status, 0, n),
		Reason:  make([]string, 0, n),
		nextID:  s.nextID,
	}
	out.vars = make([][]float64, len(s.vars))
	for vi := range out.vars {
		out.vars[vi] = make([]float64, 0, n)
	}
	for _, r := range rows {
		out.IDs = append(out.IDs, s.IDs[r])
		out.Lon = append(out.Lon, s.Lon[r])
		out.Lat = append(out.Lat, s.Lat[r])
		out.Depth = append(out.Depth, s.Depth[r])
		out.Time = append(out.Time, s.Time[r])
		out.DT = append(out.DT, s.DT[r])
		out.Release = append(out.Release, s.Release[r])
		out.Status = append(out.Status, s.Status[r])
		out.Reason = append(out.Reason, s.Reason[r])
		for vi := range s.vars {
			out.vars[vi] = append(out.vars[vi], s.vars[vi][r])
		}
	}
	return out
}

// Absorb appends all rows of other, preserving ids, and advances the id
// counter past both sets.
func (s *Set) Absorb(other *Set) {
	s.IDs = append(s.IDs, other.IDs...)
	s.Lon = append(s.Lon, other.Lon...)
	s.Lat = append(s.Lat, other.Lat...)
	s.Depth = append(s.Depth, other.Depth...)
	s.Time = append(s.Time, other.Time...)
	s.DT = append(s.DT, other.DT...)
	s.Release = append(s.Release, other.Release...)
	s.Status = append(s.Status, other.Status...)
	s.Reason = append(s.Reason, other.Reason...)
	for vi := range s.vars {
		s.vars[vi] = append(s.vars[vi], other.vars[vi]...)
	}
	if other.nextID > s.nextID {
		s.nextID = other.nextID
	}
}

// ReleaseSchedule emits repeated releases of a fixed template of positions
// on a cadence. Every == 0 means a single release at Start.
type ReleaseSchedule struct {
	Start float64
	Every float64
	Lons  []float64
	Lats  []float64
	Depth float64

	emitted int
	done    bool
}

// NextDue returns the next release time, or false when exhausted.
func (r *ReleaseSchedule) NextDue() (float64, bool) {
	if r.done {
		return 0, false
	}
	return r.Start + float64(r.emitted)*r.Every, true
}

// Emit appends one batch of particles releasing at time t.
func (r *ReleaseSchedule) Emit(s *Set, t, dt float64) {
	for i := range r.Lons {
		s.Add(r.Lons[i], r.Lats[i], r.Depth, t, dt)
	}
	r.emitted++
	if r.Every == 0 {
		r.done = true
	}
}
