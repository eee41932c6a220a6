package telemetry

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pthm-cable/drift/particle"
	"github.com/pthm-cable/drift/sim"
)

func TestNilManagerDiscards(t *testing.T) {
	om, err := NewOutputManager("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if om != nil {
		t.Fatal("empty dir should disable output")
	}
	if err := om.Write(0, nil); err != nil {
		t.Errorf("nil Write: %v", err)
	}
	if err := om.WriteReport(&sim.Report{}); err != nil {
		t.Errorf("nil WriteReport: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestTrajectoryStream(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir, []string{"age"})
	if err != nil {
		t.Fatal(err)
	}

	frames := [][]sim.Snapshot{
		{
			{ID: 0, Lon: 1.5, Lat: 2.5, Depth: 0, Status: particle.StatusActive, Vars: []float64{3}},
			{ID: 1, Lon: -1, Lat: 0, Depth: 10, Status: particle.StatusActive, Vars: []float64{4}},
		},
		{
			{ID: 0, Lon: 1.6, Lat: 2.6, Depth: 0, Status: particle.StatusActive, Vars: []float64{5}},
		},
	}
	if err := om.Write(0, frames[0]); err != nil {
		t.Fatal(err)
	}
	if err := om.Write(60, frames[1]); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, "trajectories.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(records))
	}
	wantHeader := []string{"time", "id", "lon", "lat", "depth", "status", "age"}
	for i, h := range wantHeader {
		if records[0][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], h)
		}
	}
	if records[1][1] != "0" || records[1][2] != "1.5" || records[1][6] != "3" {
		t.Errorf("row 1 = %v", records[1])
	}
	if records[3][0] != "60" || records[3][6] != "5" {
		t.Errorf("row 3 = %v", records[3])
	}
}

func TestReportAndErrors(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	report := &sim.Report{
		Steps: 12, Completed: 3, Deleted: 1, Errored: 1,
		Errors:  []sim.ParticleError{{ID: 7, Time: 120, Reason: "field U: out of bounds"}},
		MeanLon: 1.25, MeanLat: -3,
		Elapsed: 1500 * time.Millisecond,
	}
	if err := om.WriteReport(report); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	rep, err := os.ReadFile(filepath.Join(dir, "report.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(rep)), "\n")
	if len(lines) != 2 {
		t.Fatalf("report lines = %d, want header + 1", len(lines))
	}
	if !strings.HasPrefix(lines[0], "steps,") {
		t.Errorf("report header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "12,3,1,1,") {
		t.Errorf("report row = %q", lines[1])
	}
	if !strings.HasSuffix(lines[1], ",1500") {
		t.Errorf("report row elapsed = %q, want 1500 ms", lines[1])
	}

	errs, err := os.ReadFile(filepath.Join(dir, "errors.csv"))
	if err != nil {
		t.Fatal(err)
	}
	errLines := strings.Split(strings.TrimSpace(string(errs)), "\n")
	if len(errLines) != 2 {
		t.Fatalf("error lines = %d, want header + 1", len(errLines))
	}
	if !strings.Contains(errLines[1], "out of bounds") {
		t.Errorf("error row = %q", errLines[1])
	}
}

func TestOutputManagerCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	om, err := NewOutputManager(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer om.Close()
	if _, err := os.Stat(filepath.Join(dir, "trajectories.csv")); err != nil {
		t.Errorf("trajectories.csv missing: %v", err)
	}
}
