package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/musicadvisor/audioprobe/internal/capture"
)

// ErrNoSamples is returned when a snapshot is requested before any frame has
// been captured. No file is created in that case.
var ErrNoSamples = errors.New("snapshot: no samples captured")

// ReportFileName is the deterministic name of the report inside each
// snapshot directory.
const ReportFileName = "features.json"

var _ capture.SnapshotSink = (*Writer)(nil)

// Writer persists snapshot reports under a content-addressed path:
//
//	<root>/features_output/<namespace>/<sanitized-track-id>/<timestamp>/features.json
//
// Writer implements [capture.SnapshotSink]. It keeps no mutable state; the
// output root is resolved per write from the request override and the
// process environment.
type Writer struct {
	namespace string

	// now is swappable for tests.
	now func() time.Time
}

// NewWriter creates a Writer that files reports under the given namespace
// directory. A blank namespace defaults to "audioprobe".
func NewWriter(namespace string) *Writer {
	if namespace == "" {
		namespace = "audioprobe"
	}
	return &Writer{namespace: namespace, now: time.Now}
}

// WriteSnapshot builds the report for req and stats and writes it to a fresh
// snapshot directory. Returns the absolute path of the written report.
//
// Fails without touching the filesystem when nothing has been captured yet.
// Directory creation or write failures are hard failures for this request;
// no retry is attempted.
func (w *Writer) WriteSnapshot(ctx context.Context, req capture.SnapshotRequest, stats capture.Stats) (string, error) {
	if stats.SampleCount <= 0 {
		return "", ErrNoSamples
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := w.now()
	root := ResolveDataRoot(req.DataRootOverride)
	dir := snapshotDir(root, w.namespace, req.TrackID, now)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: create %q: %w", dir, err)
	}

	report := BuildReport(req, stats, now)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal report: %w", err)
	}
	data = append(data, '\n')

	// Write-then-rename so observers never see a partial report.
	path := filepath.Join(dir, ReportFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("snapshot: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot: publish %q: %w", path, err)
	}

	return path, nil
}
