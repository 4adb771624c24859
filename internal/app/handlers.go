package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/musicadvisor/audioprobe/internal/capture"
)

// snapshotRequestBody is the JSON payload accepted by POST /v1/snapshot.
// All fields are optional; blank track IDs fall back to "untitled" in the
// output path.
type snapshotRequestBody struct {
	TrackID   string `json:"track_id"`
	SessionID string `json:"session_id"`
	DataRoot  string `json:"data_root"`
}

// handleSnapshot submits a coalesced snapshot request. The response reports
// acceptance, not completion: the write happens on the capture worker, and
// pollers observe the outcome via /v1/status.
func (a *App) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var body snapshotRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	dataRoot := body.DataRoot
	if dataRoot == "" {
		dataRoot = a.cfg.Output.DataRoot
	}

	req := capture.SnapshotRequest{
		TrackID:          body.TrackID,
		SessionID:        body.SessionID,
		DataRootOverride: dataRoot,
		Host:             a.hostName,
		BuildID:          a.buildID,
		// Read the session rate from the collector rather than the
		// construction-time value, so a Prepare with a new rate is
		// reflected in later reports.
		SampleRate: a.collector.Stats().SampleRate,
	}
	a.collector.RequestSnapshot(req)
	slog.Debug("snapshot requested", "track_id", req.TrackID, "session_id", req.SessionID)

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// statusBody is the JSON payload returned by GET /v1/status.
type statusBody struct {
	CaptureEnabled  bool    `json:"capture_enabled"`
	Writing         bool    `json:"writing"`
	LastWritePath   string  `json:"last_write_path,omitempty"`
	SampleRate      float64 `json:"sample_rate"`
	DurationSec     float64 `json:"duration_sec"`
	SampleCount     int64   `json:"sample_count"`
	IntegratedRMSDB float64 `json:"integrated_rms_db"`
	PeakDB          float64 `json:"peak_db"`
	CrestFactorDB   float64 `json:"crest_factor_db"`
	TimelinePoints  int     `json:"timeline_points"`
	FramesDropped   uint64  `json:"frames_dropped"`
}

// handleStatus reports the pollable capture status: the lock-free writer
// flags plus a point-in-time aggregate summary.
func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := a.collector.Stats()
	writeJSON(w, http.StatusOK, statusBody{
		CaptureEnabled:  a.collector.CaptureEnabled(),
		Writing:         a.collector.IsWriting(),
		LastWritePath:   a.collector.LastWritePath(),
		SampleRate:      stats.SampleRate,
		DurationSec:     stats.DurationSec,
		SampleCount:     stats.SampleCount,
		IntegratedRMSDB: stats.IntegratedRMSDB(),
		PeakDB:          stats.PeakDB(),
		CrestFactorDB:   stats.CrestFactorDB(),
		TimelinePoints:  len(stats.Timeline),
		FramesDropped:   stats.FramesDropped,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
