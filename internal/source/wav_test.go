package source

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/musicadvisor/audioprobe/internal/capture"
)

// writeTestWAV creates a 16-bit PCM file where every sample of every channel
// holds the same raw value, and returns its path.
func writeTestWAV(t *testing.T, sampleRate, channels, frames, value int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	data := make([]int, frames*channels)
	for i := range data {
		data[i] = value
	}
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   data,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close fixture: %v", err)
	}
	return path
}

type discardSink struct{}

func (discardSink) WriteSnapshot(context.Context, capture.SnapshotRequest, capture.Stats) (string, error) {
	return "", nil
}

func waitForSamples(t *testing.T, c *capture.Collector, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.Stats().SampleCount >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("collector ingested %d samples, want %d", c.Stats().SampleCount, want)
}

func TestWAVSource_SampleRate(t *testing.T) {
	t.Parallel()

	path := writeTestWAV(t, 44100, 1, 64, 0)
	s := NewWAV(path)

	sr, err := s.SampleRate()
	if err != nil {
		t.Fatalf("SampleRate: %v", err)
	}
	if sr != 44100 {
		t.Errorf("SampleRate = %v, want 44100", sr)
	}
}

func TestWAVSource_StreamAggregates(t *testing.T) {
	t.Parallel()

	const (
		sampleRate = 48000
		channels   = 2
		frames     = 4096
		value      = 8192 // 8192/32768 = 0.25 linear
	)
	path := writeTestWAV(t, sampleRate, channels, frames, value)

	c := capture.New(capture.Config{SampleRate: sampleRate, Sink: discardSink{}, PollInterval: time.Millisecond})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()
	c.Prepare(sampleRate, 1024)

	s := NewWAV(path, WithBlockSize(1024))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Run(ctx, c); err != nil {
		t.Fatalf("Run: %v", err)
	}

	waitForSamples(t, c, frames*channels)
	stats := c.Stats()

	if stats.SampleCount != frames*channels {
		t.Errorf("SampleCount = %d, want %d", stats.SampleCount, frames*channels)
	}
	if stats.PeakLinear != 0.25 {
		t.Errorf("PeakLinear = %v, want 0.25", stats.PeakLinear)
	}
	// Every sample contributes 0.0625 to the sum of squares.
	wantSum := float64(frames*channels) * 0.0625
	if math.Abs(stats.SumSquares-wantSum) > 1e-6 {
		t.Errorf("SumSquares = %v, want %v", stats.SumSquares, wantSum)
	}
	// Whole file spans well under the 0.25s timeline spacing, so only the
	// first block lands on the timeline.
	if len(stats.Timeline) != 1 {
		t.Errorf("timeline has %d points, want 1", len(stats.Timeline))
	}
	// Duration is the last block's timestamp plus its scalar-sample span.
	wantDur := (float64(frames-1024) + 1024*channels) / sampleRate
	if math.Abs(stats.DurationSec-wantDur) > 1e-9 {
		t.Errorf("DurationSec = %v, want %v", stats.DurationSec, wantDur)
	}
	if stats.FramesDropped != 0 {
		t.Errorf("FramesDropped = %d, want 0", stats.FramesDropped)
	}
}

func TestWAVSource_LoopStopsOnCancel(t *testing.T) {
	t.Parallel()

	path := writeTestWAV(t, 48000, 1, 256, 1000)

	c := capture.New(capture.Config{SampleRate: 48000, Sink: discardSink{}, PollInterval: time.Millisecond})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}()

	s := NewWAV(path, WithLoop(true), WithBlockSize(128))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, c)
	if err != context.DeadlineExceeded {
		t.Fatalf("Run = %v, want context.DeadlineExceeded", err)
	}
	// Looping must have replayed the file at least once.
	waitForSamples(t, c, 2*256)
}

func TestWAVSource_EmptyPath(t *testing.T) {
	t.Parallel()

	c := capture.New(capture.Config{SampleRate: 48000, Sink: discardSink{}, PollInterval: time.Millisecond})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}()

	s := NewWAV("")
	if err := s.Run(context.Background(), c); !errors.Is(err, ErrNoSource) {
		t.Errorf("Run with empty path = %v, want ErrNoSource", err)
	}
}

func TestWAVSource_InvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "not-audio.wav")
	if err := os.WriteFile(path, []byte("definitely not riff"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewWAV(path)
	if _, err := s.SampleRate(); err == nil {
		t.Error("SampleRate on junk file succeeded")
	}

	c := capture.New(capture.Config{SampleRate: 48000, Sink: discardSink{}, PollInterval: time.Millisecond})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}()
	if err := s.Run(context.Background(), c); err == nil {
		t.Error("Run on junk file succeeded")
	}
}
