// Package capture implements the real-time feature-capture pipeline: a
// frame producer that summarises audio blocks on the processing thread, a
// lock-free SPSC queue that hands summaries to a background worker, an
// aggregator that folds them into running loudness statistics, and a
// collector that ties the three together and services snapshot requests.
//
// The contract on the producer side is strict: [ComputeFrame],
// [Collector.PushFrame], and [SampleClock] never allocate, never lock, and
// never block, so they are safe to call from a hard-real-time audio callback.
package capture

import "math"

// FrameSummary holds the per-block scalar statistics extracted from one
// processed audio block. Values are ephemeral: produced on the audio thread,
// transferred through the queue, folded into the aggregate, and discarded.
type FrameSummary struct {
	// TimestampSec is the block's position on the playback clock:
	// cumulative samples processed divided by sample rate. Monotonically
	// non-decreasing within a session.
	TimestampSec float64

	// SumSquares is the accumulated squared amplitude across all channels
	// and samples in the block.
	SumSquares float64

	// SampleCount is the total scalar sample count (samples × channels).
	SampleCount int32

	// PeakLinear is the maximum absolute sample value in the block.
	PeakLinear float32
}

// ComputeFrame summarises one audio block into a [FrameSummary]. block is a
// slice of per-channel sample slices; timestampSec stamps the block's start
// position on the playback clock. Runs in time proportional to
// channels × samples with no allocation.
func ComputeFrame(block [][]float32, timestampSec float64) FrameSummary {
	var (
		sumSquares float64
		peak       float32
		count      int32
	)
	for _, ch := range block {
		for _, s := range ch {
			sumSquares += float64(s) * float64(s)
			if a := abs32(s); a > peak {
				peak = a
			}
		}
		count += int32(len(ch))
	}
	return FrameSummary{
		TimestampSec: timestampSec,
		SumSquares:   sumSquares,
		SampleCount:  count,
		PeakLinear:   peak,
	}
}

// abs32 is math.Abs for float32 without the float64 round trip.
func abs32(s float32) float32 {
	return math.Float32frombits(math.Float32bits(s) &^ (1 << 31))
}

// SampleClock derives block timestamps from a running count of samples
// processed per channel. Owned by the audio thread; not safe for concurrent
// use.
type SampleClock struct {
	sampleRate       float64
	samplesProcessed int64
}

// NewSampleClock returns a clock for the given sample rate.
func NewSampleClock(sampleRate float64) *SampleClock {
	return &SampleClock{sampleRate: sampleRate}
}

// Now returns the current playback position in seconds.
func (c *SampleClock) Now() float64 {
	if c.sampleRate <= 0 {
		return 0
	}
	return float64(c.samplesProcessed) / c.sampleRate
}

// Advance moves the clock forward by numSamples frames (per channel, not
// scalar samples) and returns the timestamp of the block that just started,
// i.e. the position before advancing.
func (c *SampleClock) Advance(numSamples int) float64 {
	t := c.Now()
	c.samplesProcessed += int64(numSamples)
	return t
}

// Reset rewinds the clock to zero and adopts a new sample rate. A
// non-positive sampleRate keeps the current rate.
func (c *SampleClock) Reset(sampleRate float64) {
	if sampleRate > 0 {
		c.sampleRate = sampleRate
	}
	c.samplesProcessed = 0
}
