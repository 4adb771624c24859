package capture

import (
	"math"
	"sync/atomic"
)

// LevelStats is the result of one [LevelMeter.SnapshotAndReset] cycle.
// Linear units throughout; use [DBFromLinear] for display.
type LevelStats struct {
	RMS        float64
	Peak       float64
	Crest      float64
	Samples    int64
	SampleRate float64
}

// LevelMeter is the queue-less pipeline variant: running sum-of-squares,
// peak, and sample count held in atomics so the audio thread can publish
// levels without a queue or a worker. A UI goroutine calls SnapshotAndReset
// on its own schedule to read and restart the accumulation window.
//
// Push and SnapshotAndReset may race benignly between fields: a snapshot
// taken mid-push can pair a block's energy with the previous block's peak.
// For a polling level display that skew is invisible, which is why this
// variant gets away without the queue.
type LevelMeter struct {
	sumSquares   atomic.Uint64 // math.Float64bits
	peak         atomic.Uint32 // math.Float32bits
	totalSamples atomic.Int64
	sampleRate   atomic.Uint64 // math.Float64bits
}

// Prepare stores the session sample rate and clears the accumulators.
func (m *LevelMeter) Prepare(sampleRate float64) {
	m.sampleRate.Store(math.Float64bits(sampleRate))
	m.Reset()
}

// Reset clears the accumulation window.
func (m *LevelMeter) Reset() {
	m.sumSquares.Store(0)
	m.peak.Store(0)
	m.totalSamples.Store(0)
}

// Push folds one audio block into the running window. Audio-thread safe:
// lock-free, allocation-free, bounded by channels × samples.
func (m *LevelMeter) Push(block [][]float32) {
	var (
		localSum  float64
		localPeak float32
		count     int64
	)
	for _, ch := range block {
		for _, s := range ch {
			localSum += float64(s) * float64(s)
			if a := abs32(s); a > localPeak {
				localPeak = a
			}
		}
		count += int64(len(ch))
	}
	if count == 0 {
		return
	}

	m.addSumSquares(localSum)
	m.maxPeak(localPeak)
	m.totalSamples.Add(count)
}

// SnapshotAndReset atomically takes the current window and starts a new one,
// returning derived linear statistics.
func (m *LevelMeter) SnapshotAndReset() LevelStats {
	sum := math.Float64frombits(m.sumSquares.Swap(0))
	pk := float64(math.Float32frombits(m.peak.Swap(0)))
	n := m.totalSamples.Swap(0)

	stats := LevelStats{
		Samples:    n,
		SampleRate: math.Float64frombits(m.sampleRate.Load()),
	}
	if n > 0 {
		rms := math.Sqrt(sum / float64(n))
		stats.RMS = rms
		stats.Peak = pk
		if rms > 0 {
			stats.Crest = pk / rms
		}
	}
	return stats
}

// addSumSquares adds v to the float64 accumulator with a CAS loop.
func (m *LevelMeter) addSumSquares(v float64) {
	for {
		old := m.sumSquares.Load()
		nu := math.Float64bits(math.Float64frombits(old) + v)
		if m.sumSquares.CompareAndSwap(old, nu) {
			return
		}
	}
}

// maxPeak raises the float32 peak to at least v with a CAS loop.
func (m *LevelMeter) maxPeak(v float32) {
	for {
		old := m.peak.Load()
		if math.Float32frombits(old) >= v {
			return
		}
		if m.peak.CompareAndSwap(old, math.Float32bits(v)) {
			return
		}
	}
}
