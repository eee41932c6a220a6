// Package telemetry handles structured run output: trajectory CSV streams,
// the end-of-run report, and the error log.
package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/sim"
)

// OutputManager writes run output under one directory. It implements
// sim.OutputSink for the trajectory stream and adds report and error files
// at run end. A nil manager is valid and discards everything.
type OutputManager struct {
	dir      string
	varNames []string

	trajFile *os.File
	traj     *csv.Writer

	reportFile *os.File
	errorFile  *os.File

	trajHeaderWritten   bool
	reportHeaderWritten bool
	errorHeaderWritten  bool
}

// NewOutputManager creates the output directory and opens the output files.
// varNames are the user-variable columns appended to each trajectory row, in
// schema order. Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string, varNames []string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir, varNames: varNames}

	f, err := os.Create(filepath.Join(dir, "trajectories.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating trajectories.csv: %w", err)
	}
	om.trajFile = f
	om.traj = csv.NewWriter(f)

	f, err = os.Create(filepath.Join(dir, "report.csv"))
	if err != nil {
		om.trajFile.Close()
		return nil, fmt.Errorf("creating report.csv: %w", err)
	}
	om.reportFile = f

	f, err = os.Create(filepath.Join(dir, "errors.csv"))
	if err != nil {
		om.trajFile.Close()
		om.reportFile.Close()
		return nil, fmt.Errorf("creating errors.csv: %w", err)
	}
	om.errorFile = f

	return om, nil
}

// WriteConfig saves the effective configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// Write appends one output frame to trajectories.csv: one row per alive
// particle at the given time. The column set depends on the particle schema,
// so headers are assembled here rather than from struct tags.
func (om *OutputManager) Write(t float64, snaps []sim.Snapshot) error {
	if om == nil {
		return nil
	}

	if !om.trajHeaderWritten {
		header := []string{"time", "id", "lon", "lat", "depth", "status"}
		header = append(header, om.varNames...)
		if err := om.traj.Write(header); err != nil {
			return fmt.Errorf("writing trajectory header: %w", err)
		}
		om.trajHeaderWritten = true
	}

	row := make([]string, 0, 6+len(om.varNames))
	for _, s := range snaps {
		row = row[:0]
		row = append(row,
			formatFloat(t),
			strconv.FormatInt(s.ID, 10),
			formatFloat(s.Lon),
			formatFloat(s.Lat),
			formatFloat(s.Depth),
			s.Status.String(),
		)
		for _, v := range s.Vars {
			row = append(row, formatFloat(v))
		}
		if err := om.traj.Write(row); err != nil {
			return fmt.Errorf("writing trajectory row: %w", err)
		}
	}
	om.traj.Flush()
	return om.traj.Error()
}

// ReportRecord is one run summary row in report.csv.
type ReportRecord struct {
	Steps     int     `csv:"steps"`
	Completed int     `csv:"completed"`
	Deleted   int     `csv:"deleted"`
	Errored   int     `csv:"errored"`
	MeanLon   float64 `csv:"mean_lon"`
	MeanLat   float64 `csv:"mean_lat"`
	StdDevLon float64 `csv:"stddev_lon"`
	StdDevLat float64 `csv:"stddev_lat"`
	ElapsedMS int64   `csv:"elapsed_ms"`
}

// ErrorRecord is one particle failure row in errors.csv.
type ErrorRecord struct {
	ID     int64   `csv:"id"`
	Time   float64 `csv:"time"`
	Reason string  `csv:"reason"`
}

// WriteReport writes the run summary and the per-particle error log.
func (om *OutputManager) WriteReport(r *sim.Report) error {
	if om == nil {
		return nil
	}

	records := []ReportRecord{{
		Steps:     r.Steps,
		Completed: r.Completed,
		Deleted:   r.Deleted,
		Errored:   r.Errored,
		MeanLon:   r.MeanLon,
		MeanLat:   r.MeanLat,
		StdDevLon: r.StdDevLon,
		StdDevLat: r.StdDevLat,
		ElapsedMS: r.Elapsed.Milliseconds(),
	}}

	if !om.reportHeaderWritten {
		if err := gocsv.Marshal(records, om.reportFile); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		om.reportHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, om.reportFile); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	if len(r.Errors) > 0 {
		errRecords := make([]ErrorRecord, len(r.Errors))
		for i, pe := range r.Errors {
			errRecords[i] = ErrorRecord{ID: pe.ID, Time: pe.Time, Reason: pe.Reason}
		}
		if !om.errorHeaderWritten {
			if err := gocsv.Marshal(errRecords, om.errorFile); err != nil {
				return fmt.Errorf("writing errors: %w", err)
			}
			om.errorHeaderWritten = true
		} else {
			if err := gocsv.MarshalWithoutHeaders(errRecords, om.errorFile); err != nil {
				return fmt.Errorf("writing errors: %w", err)
			}
		}
	}

	return nil
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	om.traj.Flush()
	var firstErr error
	if err := om.traj.Error(); err != nil {
		firstErr = err
	}
	for _, f := range []*os.File{om.trajFile, om.reportFile, om.errorFile} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
