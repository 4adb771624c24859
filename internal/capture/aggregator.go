package capture

import "math"

const (
	// timelineSpacingSec is the minimum spacing between recorded timeline
	// points. The first frame after a reset is always recorded.
	timelineSpacingSec = 0.25

	// epsilon keeps decibel conversions finite on silence.
	epsilon = 1.0e-9
)

// DBFromLinear converts a linear amplitude to decibels with the pipeline's
// epsilon guard, so silence yields 20*log10(epsilon) rather than -Inf.
func DBFromLinear(v float64) float64 {
	return 20 * math.Log10(v+epsilon)
}

// TimelinePoint is one entry of the downsampled loudness envelope.
type TimelinePoint struct {
	TimeSec float64
	RMSDB   float64
	PeakDB  float64
}

// Stats is a point-in-time copy of the aggregate, safe to hand to other
// goroutines. The timeline slice is owned by the receiver.
type Stats struct {
	SampleRate    float64
	DurationSec   float64
	SumSquares    float64
	SampleCount   int64
	PeakLinear    float32
	Timeline      []TimelinePoint
	FramesDropped uint64
}

// IntegratedRMSDB returns the integrated loudness of the whole capture in
// decibels, or the epsilon floor when nothing was captured.
func (s Stats) IntegratedRMSDB() float64 {
	n := s.SampleCount
	if n < 1 {
		n = 1
	}
	return DBFromLinear(math.Sqrt(s.SumSquares / float64(n)))
}

// PeakDB returns the overall peak in decibels.
func (s Stats) PeakDB() float64 {
	return DBFromLinear(float64(s.PeakLinear))
}

// CrestFactorDB returns peak minus integrated RMS, in decibels.
func (s Stats) CrestFactorDB() float64 {
	return s.PeakDB() - s.IntegratedRMSDB()
}

// Aggregator folds a stream of frame summaries into running statistics. It
// is owned and mutated exclusively by the collector's background worker; no
// internal synchronisation.
type Aggregator struct {
	sampleRate       float64
	totalSeconds     float64
	sumSquares       float64
	totalSamples     int64
	maxPeak          float32
	lastTimelineTime float64
	timeline         []TimelinePoint
}

// NewAggregator returns an aggregator for the given sample rate.
func NewAggregator(sampleRate float64) *Aggregator {
	a := &Aggregator{sampleRate: sampleRate}
	a.Reset()
	return a
}

// SetSampleRate adopts a new session sample rate. Call together with Reset
// on stream restart.
func (a *Aggregator) SetSampleRate(sampleRate float64) {
	a.sampleRate = sampleRate
}

// Reset zeroes all accumulators and clears the timeline.
func (a *Aggregator) Reset() {
	a.totalSeconds = 0
	a.sumSquares = 0
	a.totalSamples = 0
	a.maxPeak = 0
	a.lastTimelineTime = -1
	a.timeline = a.timeline[:0]
}

// Ingest folds one frame into the aggregate. Frames arrive in production
// order, so the timeline stays sorted by time.
func (a *Aggregator) Ingest(f FrameSummary) {
	var blockDuration float64
	if f.SampleCount > 0 && a.sampleRate > 0 {
		blockDuration = float64(f.SampleCount) / a.sampleRate
	}
	if end := f.TimestampSec + blockDuration; end > a.totalSeconds {
		a.totalSeconds = end
	}

	a.sumSquares += f.SumSquares
	a.totalSamples += int64(f.SampleCount)
	if f.PeakLinear > a.maxPeak {
		a.maxPeak = f.PeakLinear
	}

	first := a.lastTimelineTime < 0
	if first || f.TimestampSec-a.lastTimelineTime >= timelineSpacingSec {
		a.lastTimelineTime = f.TimestampSec
		n := f.SampleCount
		if n < 1 {
			n = 1
		}
		rmsLinear := math.Sqrt(f.SumSquares / float64(n))
		a.timeline = append(a.timeline, TimelinePoint{
			TimeSec: f.TimestampSec,
			RMSDB:   DBFromLinear(rmsLinear),
			PeakDB:  DBFromLinear(float64(f.PeakLinear)),
		})
	}
}

// SampleCount returns the cumulative scalar sample count since the last reset.
func (a *Aggregator) SampleCount() int64 { return a.totalSamples }

// Stats returns a copy of the current aggregate. The timeline is duplicated
// so later ingests cannot mutate the returned value.
func (a *Aggregator) Stats() Stats {
	tl := make([]TimelinePoint, len(a.timeline))
	copy(tl, a.timeline)
	return Stats{
		SampleRate:  a.sampleRate,
		DurationSec: a.totalSeconds,
		SumSquares:  a.sumSquares,
		SampleCount: a.totalSamples,
		PeakLinear:  a.maxPeak,
		Timeline:    tl,
	}
}
