package sim

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/drift/particle"
)

// ParticleError records why one particle ended the run in the error state.
type ParticleError struct {
	ID     int64
	Time   float64
	Reason string
}

// Report summarizes a completed run: which particles finished, were deleted
// intentionally, or ended in an error state, plus aggregate trajectory
// statistics. No single particle's failure aborts the batch, so the report
// is the place failures surface.
type Report struct {
	Steps     int
	Completed int
	Deleted   int
	Errored   int
	Errors    []ParticleError

	MeanLon   float64
	MeanLat   float64
	StdDevLon float64
	StdDevLat float64

	Elapsed time.Duration
}

// MergeReports combines per-worker reports from a partitioned run. Counts
// and errors sum; position statistics are pooled by weighted mean (spread is
// recomputed by the caller when exact pooling matters).
func MergeReports(reports ...*Report) *Report {
	merged := &Report{}
	total := 0
	for _, r := range reports {
		if r == nil {
			continue
		}
		merged.Steps += r.Steps
		merged.Completed += r.Completed
		merged.Deleted += r.Deleted
		merged.Errored += r.Errored
		merged.Errors = append(merged.Errors, r.Errors...)
		if r.Elapsed > merged.Elapsed {
			merged.Elapsed = r.Elapsed
		}
		n := r.Completed + r.Errored
		merged.MeanLon += r.MeanLon * float64(n)
		merged.MeanLat += r.MeanLat * float64(n)
		total += n
	}
	if total > 0 {
		merged.MeanLon /= float64(total)
		merged.MeanLat /= float64(total)
	}
	return merged
}

// buildReport computes final counts and position statistics.
func buildReport(ps *particle.Set, steps int, deleted int, elapsed time.Duration) *Report {
	r := &Report{Steps: steps, Deleted: deleted, Elapsed: elapsed}

	var lons, lats []float64
	for i := 0; i < ps.Len(); i++ {
		switch ps.Status[i] {
		case particle.StatusDeleted:
			r.Deleted++
		case particle.StatusError:
			r.Errored++
			r.Errors = append(r.Errors, ParticleError{
				ID: ps.IDs[i], Time: ps.Time[i], Reason: ps.Reason[i],
			})
			lons = append(lons, ps.Lon[i])
			lats = append(lats, ps.Lat[i])
		default:
			r.Completed++
			lons = append(lons, ps.Lon[i])
			lats = append(lats, ps.Lat[i])
		}
	}
	if len(lons) > 0 {
		r.MeanLon = stat.Mean(lons, nil)
		r.MeanLat = stat.Mean(lats, nil)
		r.StdDevLon = stat.StdDev(lons, nil)
		r.StdDevLat = stat.StdDev(lats, nil)
	}
	return r
}
