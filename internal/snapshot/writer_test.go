package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/musicadvisor/audioprobe/internal/capture"
)

func testStats() capture.Stats {
	return capture.Stats{
		SampleRate:  48000,
		DurationSec: 1.5,
		SumSquares:  250,
		SampleCount: 1000,
		PeakLinear:  0.8,
		Timeline: []capture.TimelinePoint{
			{TimeSec: 0, RMSDB: -6, PeakDB: -3},
			{TimeSec: 0.25, RMSDB: -7, PeakDB: -4},
		},
	}
}

func TestWriter_WriteSnapshot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := NewWriter("audioprobe")
	w.now = func() time.Time { return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC) }

	req := capture.SnapshotRequest{
		TrackID:          "My Track",
		SessionID:        "sess-1",
		Host:             "testhost",
		DataRootOverride: root,
		BuildID:          "v1.2.3",
		SampleRate:       48000,
	}

	path, err := w.WriteSnapshot(context.Background(), req, testStats())
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	want := filepath.Join(root, "features_output", "audioprobe", "My Track", "20260314_150926", "features.json")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("report missing trailing newline")
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.Version != FormatVersion {
		t.Errorf("version = %q, want %q", report.Version, FormatVersion)
	}
	if report.TrackID != "My Track" || report.SessionID != "sess-1" || report.Host != "testhost" {
		t.Errorf("metadata mismatch: %+v", report)
	}
	if report.Build != "v1.2.3" {
		t.Errorf("build = %q, want v1.2.3", report.Build)
	}
	if report.GeneratedAt != "2026-03-14T15:09:26Z" {
		t.Errorf("generated_at = %q", report.GeneratedAt)
	}
	if report.Features.Global.DurationSec != 1.5 {
		t.Errorf("duration_sec = %v, want 1.5", report.Features.Global.DurationSec)
	}
	// sum 250 over 1000 samples: RMS 0.5, about -6 dB.
	if got := report.Features.Global.IntegratedRMSDB; got < -6.03 || got > -6.01 {
		t.Errorf("integrated_rms_db = %v, want about -6.02", got)
	}
	if len(report.Features.Timeline) != 2 {
		t.Fatalf("timeline has %d entries, want 2", len(report.Features.Timeline))
	}
	if report.Features.Timeline[1].TimeSec != 0.25 {
		t.Errorf("timeline[1].time_sec = %v, want 0.25", report.Features.Timeline[1].TimeSec)
	}

	// No temp file may survive a successful publish.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != ReportFileName {
		t.Errorf("snapshot dir entries = %v, want only %s", entries, ReportFileName)
	}
}

func TestWriter_EmptyCaptureWritesNothing(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := NewWriter("audioprobe")
	req := capture.SnapshotRequest{TrackID: "demo", DataRootOverride: root}

	_, err := w.WriteSnapshot(context.Background(), req, capture.Stats{})
	if !errors.Is(err, ErrNoSamples) {
		t.Fatalf("err = %v, want ErrNoSamples", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("empty capture created %v, want nothing", entries)
	}
}

func TestWriter_RepeatedSnapshotsGetDistinctDirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := NewWriter("audioprobe")
	w.now = func() time.Time { return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC) }
	req := capture.SnapshotRequest{TrackID: "demo", DataRootOverride: root}

	first, err := w.WriteSnapshot(context.Background(), req, testStats())
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.WriteSnapshot(context.Background(), req, testStats())
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("same-second snapshots share path %q", first)
	}
	if filepath.Dir(second) != filepath.Dir(first)+"_2" {
		t.Errorf("second dir = %q, want first dir with _2 suffix", filepath.Dir(second))
	}
}

func TestWriter_CancelledContext(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := NewWriter("audioprobe")
	req := capture.SnapshotRequest{TrackID: "demo", DataRootOverride: root}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.WriteSnapshot(ctx, req, testStats()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestWriter_DefaultNamespace(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := NewWriter("")
	req := capture.SnapshotRequest{TrackID: "demo", DataRootOverride: root}

	path, err := w.WriteSnapshot(context.Background(), req, testStats())
	if err != nil {
		t.Fatal(err)
	}
	wantPrefix := filepath.Join(root, "features_output", "audioprobe")
	if !strings.HasPrefix(path, wantPrefix) {
		t.Errorf("path = %q, want prefix %q", path, wantPrefix)
	}
}
