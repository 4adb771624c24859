// Package source feeds the capture pipeline from local audio files, playing
// the role the DAW host plays for the plugin build of the probe: it delivers
// fixed-size blocks to the frame producer, optionally paced at the file's
// real-time rate.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/musicadvisor/audioprobe/internal/capture"
)

// defaultBlockSize is the per-channel block length when none is configured.
const defaultBlockSize = 1024

// WAVSource streams one WAV file through a [capture.Collector] as a sequence
// of frame summaries.
type WAVSource struct {
	path      string
	blockSize int
	realtime  bool
	loop      bool
}

// Option configures a WAVSource.
type Option func(*WAVSource)

// WithBlockSize sets the per-channel block length in samples.
func WithBlockSize(n int) Option {
	return func(s *WAVSource) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithRealtime paces delivery at the file's sample rate instead of decoding
// as fast as possible.
func WithRealtime(on bool) Option {
	return func(s *WAVSource) { s.realtime = on }
}

// WithLoop restarts the file when it ends.
func WithLoop(on bool) Option {
	return func(s *WAVSource) { s.loop = on }
}

// NewWAV creates a source for the WAV file at path.
func NewWAV(path string, opts ...Option) *WAVSource {
	s := &WAVSource{path: path, blockSize: defaultBlockSize}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SampleRate opens the file header and returns its sample rate, so callers
// can Prepare the collector before streaming.
func (s *WAVSource) SampleRate() (float64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return 0, fmt.Errorf("source: open %q: %w", s.path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("source: %q is not a valid WAV file", s.path)
	}
	return float64(dec.SampleRate), nil
}

// Run streams the file into c until the file ends (or forever when looping)
// or ctx is cancelled. The stream clock starts at zero; call
// [capture.Collector.Prepare] first.
func (s *WAVSource) Run(ctx context.Context, c *capture.Collector) error {
	if s.path == "" {
		return ErrNoSource
	}
	for {
		if err := s.streamOnce(ctx, c); err != nil {
			return err
		}
		if !s.loop {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// streamOnce plays the file through once from the beginning.
func (s *WAVSource) streamOnce(ctx context.Context, c *capture.Collector) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("source: open %q: %w", s.path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("source: %q is not a valid WAV file", s.path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return fmt.Errorf("source: seek pcm in %q: %w", s.path, err)
	}

	sampleRate := float64(dec.SampleRate)
	channels := int(dec.NumChans)
	if channels <= 0 {
		return fmt.Errorf("source: %q has no channels", s.path)
	}
	bitDepth := dec.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(1) / float32(int64(1)<<(bitDepth-1))

	// All buffers are allocated once per pass; the per-block loop below
	// mirrors the allocation-free discipline of a processBlock callback.
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
		Data:   make([]int, s.blockSize*channels),
	}
	block := make([][]float32, channels)
	for ch := range block {
		block[ch] = make([]float32, s.blockSize)
	}
	clock := capture.NewSampleClock(sampleRate)

	blockDur := time.Duration(float64(s.blockSize) / sampleRate * float64(time.Second))
	var pace *time.Ticker
	if s.realtime && blockDur > 0 {
		pace = time.NewTicker(blockDur)
		defer pace.Stop()
	}

	slog.Debug("streaming wav source",
		"path", s.path,
		"sample_rate", sampleRate,
		"channels", channels,
		"block_size", s.blockSize,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return fmt.Errorf("source: decode %q: %w", s.path, err)
		}
		if n == 0 {
			return nil
		}

		frames := n / channels
		for ch := 0; ch < channels; ch++ {
			block[ch] = block[ch][:frames]
			for i := 0; i < frames; i++ {
				block[ch][i] = float32(buf.Data[i*channels+ch]) * scale
			}
		}

		ts := clock.Advance(frames)
		c.PushFrame(capture.ComputeFrame(block, ts))

		if pace != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pace.C:
			}
		}
	}
}

// ErrNoSource marks a run attempted without a configured source.
var ErrNoSource = errors.New("source: no wav path configured")
