// Package snapshot turns a captured aggregate into a durable JSON report at
// a content-addressed output path. Writes are atomic to observers: the full
// document is marshalled in memory, written to a temp file, and renamed into
// place.
package snapshot

import (
	"time"

	"github.com/musicadvisor/audioprobe/internal/capture"
)

// FormatVersion tags the report schema so downstream tooling can dispatch on
// it.
const FormatVersion = "audioprobe_features_v1"

// GlobalFeatures holds the whole-capture statistics computed at write time.
type GlobalFeatures struct {
	DurationSec     float64 `json:"duration_sec"`
	IntegratedRMSDB float64 `json:"integrated_rms_db"`
	PeakDB          float64 `json:"peak_db"`
	CrestFactorDB   float64 `json:"crest_factor_db"`
}

// TimelineEntry is one point of the downsampled loudness envelope.
type TimelineEntry struct {
	TimeSec float64 `json:"time_sec"`
	RMSDB   float64 `json:"rms_db"`
	PeakDB  float64 `json:"peak_db"`
}

// Features groups the global statistics with the timeline envelope.
type Features struct {
	Global   GlobalFeatures  `json:"global"`
	Timeline []TimelineEntry `json:"timeline"`
}

// Report is the serialised snapshot document. Write-once: never mutated
// after being flushed.
type Report struct {
	Version     string   `json:"version"`
	TrackID     string   `json:"track_id"`
	SessionID   string   `json:"session_id"`
	Host        string   `json:"host"`
	SampleRate  float64  `json:"sample_rate"`
	GeneratedAt string   `json:"generated_at"`
	Build       string   `json:"build"`
	Features    Features `json:"features"`
}

// BuildReport assembles a Report from the submitted request metadata and a
// point-in-time aggregate. generatedAt is stamped in RFC 3339 UTC.
func BuildReport(req capture.SnapshotRequest, stats capture.Stats, generatedAt time.Time) Report {
	timeline := make([]TimelineEntry, len(stats.Timeline))
	for i, p := range stats.Timeline {
		timeline[i] = TimelineEntry{
			TimeSec: p.TimeSec,
			RMSDB:   p.RMSDB,
			PeakDB:  p.PeakDB,
		}
	}

	return Report{
		Version:     FormatVersion,
		TrackID:     req.TrackID,
		SessionID:   req.SessionID,
		Host:        req.Host,
		SampleRate:  req.SampleRate,
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		Build:       req.BuildID,
		Features: Features{
			Global: GlobalFeatures{
				DurationSec:     stats.DurationSec,
				IntegratedRMSDB: stats.IntegratedRMSDB(),
				PeakDB:          stats.PeakDB(),
				CrestFactorDB:   stats.CrestFactorDB(),
			},
			Timeline: timeline,
		},
	}
}
