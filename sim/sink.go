package sim

import "github.com/pthm-cable/drift/particle"

// Snapshot is one particle's output record at one output time. Vars holds
// the ToWrite user variables in schema order.
type Snapshot struct {
	ID     int64
	Time   float64
	Lon    float64
	Lat    float64
	Depth  float64
	Status particle.Status
	Vars   []float64
}

// OutputSink receives snapshots at the configured cadence. The executor
// calls Write at simulation times that are multiples of the write interval
// (within one dt) plus a final flush at run completion; it never opens files
// itself.
type OutputSink interface {
	Write(time float64, snapshots []Snapshot) error
	Close() error
}

// snapshotSet collects the output rows for all non-deleted particles.
func snapshotSet(ps *particle.Set, t float64) []Snapshot {
	var writeVars []int
	for i, v := range ps.Schema().Vars() {
		if v.ToWrite {
			writeVars = append(writeVars, i)
		}
	}
	out := make([]Snapshot, 0, ps.Len())
	for i := 0; i < ps.Len(); i++ {
		if ps.Status[i] == particle.StatusDeleted || ps.Status[i] == particle.StatusInactive {
			continue
		}
		snap := Snapshot{
			ID:     ps.IDs[i],
			Time:   t,
			Lon:    ps.Lon[i],
			Lat:    ps.Lat[i],
			Depth:  ps.Depth[i],
			Status: ps.Status[i],
		}
		if len(writeVars) > 0 {
			snap.Vars = make([]float64, len(writeVars))
			for j, vi := range writeVars {
				snap.Vars[j] = ps.VarByIndex(vi)[i]
			}
		}
		out = append(out, snap)
	}
	return out
}
