package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/musicadvisor/audioprobe/internal/observe"
)

// defaultPollInterval bounds how long a pending snapshot request or a queued
// frame can wait for the worker when no explicit wake arrives.
const defaultPollInterval = 25 * time.Millisecond

// ErrClosed is returned by Close when the worker does not stop within the
// caller's deadline.
var ErrClosed = errors.New("capture: collector did not stop before deadline")

// SnapshotRequest carries the caller-supplied metadata for one snapshot.
// Immutable once submitted. When several requests arrive before the worker
// services one, only the most recent survives (last-request-wins coalescing).
type SnapshotRequest struct {
	// TrackID identifies the material being captured. Blank or unnamable
	// IDs fall back to "untitled" in the output path.
	TrackID string

	// SessionID groups snapshots belonging to one working session.
	SessionID string

	// Host names the audio host driving the producer.
	Host string

	// DataRootOverride, when non-empty, replaces the environment-resolved
	// output root for this request only.
	DataRootOverride string

	// BuildID identifies the probe build that produced the report.
	BuildID string

	// SampleRate is the session sample rate, echoed into the report.
	SampleRate float64
}

// SnapshotSink consumes a serviced snapshot request together with the
// aggregate captured so far and persists a report, returning the path of the
// written artifact. Implementations may block on I/O; they are only ever
// called from the collector's worker goroutine.
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, req SnapshotRequest, stats Stats) (string, error)
}

// Config parameterises a [Collector].
type Config struct {
	// QueueCapacity is the minimum transfer queue depth in frames.
	// Defaults to 8192.
	QueueCapacity int

	// SampleRate is the initial session sample rate. Prepare overrides it.
	SampleRate float64

	// Sink persists snapshot reports. Required.
	Sink SnapshotSink

	// Metrics receives pipeline instrumentation. Optional; nil disables
	// metric recording.
	Metrics *observe.Metrics

	// PollInterval overrides the worker wake period. Defaults to 25ms.
	PollInterval time.Duration
}

// Collector owns the transfer queue, the aggregator, and the background
// worker that drains one into the other and services snapshot requests.
//
// Thread model: PushFrame and SetCaptureEnabled/CaptureEnabled are safe from
// the audio thread and never block. RequestSnapshot, IsWriting,
// LastWritePath, Stats, Prepare, Reset, and Close are safe from any
// non-real-time goroutine. The aggregator itself is touched only under aggMu,
// which is never held across I/O.
type Collector struct {
	queue *FrameQueue
	sink  SnapshotSink
	met   *observe.Metrics

	pollInterval time.Duration

	// Audio-side state. captureEnabled gates PushFrame; dropped counts
	// overflow losses. Both are plain atomics so the audio path stays
	// lock-free.
	captureEnabled atomic.Bool
	dropped        atomic.Uint64

	// aggMu guards the aggregator: held by the worker while draining and by
	// the lifecycle hooks (Prepare/Reset). Hold times are bounded by drain
	// work only, never by I/O.
	aggMu sync.Mutex
	agg   *Aggregator

	// Pending snapshot request slot. requested flags the slot full; reqMu
	// guards the multi-field payload. Touched only by non-real-time threads.
	reqMu     sync.Mutex
	pending   SnapshotRequest
	requested atomic.Bool

	// Worker status surface, lock-free for pollers.
	writing  atomic.Bool
	lastPath atomic.Pointer[string]

	// droppedPublished tracks how much of the drop counter has already been
	// forwarded to metrics. Worker-only.
	droppedPublished uint64

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// New creates a Collector and starts its background worker. Close must be
// called to release it.
func New(cfg Config) *Collector {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	c := &Collector{
		queue:        NewFrameQueue(cfg.QueueCapacity),
		sink:         cfg.Sink,
		met:          cfg.Metrics,
		pollInterval: cfg.PollInterval,
		agg:          NewAggregator(cfg.SampleRate),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	c.captureEnabled.Store(true)
	go c.run()
	return c
}

// SetCaptureEnabled toggles capture. Readable and writable without blocking.
func (c *Collector) SetCaptureEnabled(on bool) { c.captureEnabled.Store(on) }

// CaptureEnabled reports whether PushFrame currently accepts frames.
func (c *Collector) CaptureEnabled() bool { return c.captureEnabled.Load() }

// PushFrame hands one frame summary to the pipeline. Audio-thread safe: no
// allocation, no locks, bounded time independent of queue fill level. When
// capture is disabled the frame is skipped entirely; when the queue is full
// the frame is dropped silently and only the drop counter advances.
func (c *Collector) PushFrame(f FrameSummary) {
	if !c.captureEnabled.Load() {
		return
	}
	if !c.queue.TryPush(f) {
		c.dropped.Add(1)
	}
}

// DroppedFrames returns the number of frames lost to queue overflow since
// the collector was created.
func (c *Collector) DroppedFrames() uint64 { return c.dropped.Load() }

// RequestSnapshot submits req, overwriting any not-yet-serviced pending
// request, and wakes the worker. Callable from any non-real-time goroutine.
func (c *Collector) RequestSnapshot(req SnapshotRequest) {
	c.reqMu.Lock()
	c.pending = req
	c.reqMu.Unlock()
	c.requested.Store(true)

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// IsWriting reports whether a snapshot write is in flight.
func (c *Collector) IsWriting() bool { return c.writing.Load() }

// LastWritePath returns the absolute path of the most recent successful
// snapshot, or "" when none has been written since the last Reset.
func (c *Collector) LastWritePath() string {
	if p := c.lastPath.Load(); p != nil {
		return *p
	}
	return ""
}

// Prepare readies the pipeline for a (re)started processing session with a
// possibly new sample rate: accumulators, timeline, and queue are cleared.
// The producer must be quiescent while Prepare runs.
func (c *Collector) Prepare(sampleRate float64, _ int) {
	c.aggMu.Lock()
	defer c.aggMu.Unlock()
	c.agg.SetSampleRate(sampleRate)
	c.agg.Reset()
	c.queue.Reset()
}

// Reset clears the aggregate, the queue, and the last-write path. The
// producer must be quiescent while Reset runs.
func (c *Collector) Reset() {
	c.aggMu.Lock()
	c.agg.Reset()
	c.queue.Reset()
	c.aggMu.Unlock()
	c.lastPath.Store(nil)
}

// Stats returns a point-in-time copy of the aggregate, including the running
// dropped-frame count. Safe from any non-real-time goroutine.
func (c *Collector) Stats() Stats {
	c.aggMu.Lock()
	s := c.agg.Stats()
	c.aggMu.Unlock()
	s.FramesDropped = c.dropped.Load()
	return s
}

// Close stops the worker, letting an in-flight snapshot write finish. It
// returns ErrClosed if the worker is still busy when ctx expires. Close is
// idempotent.
func (c *Collector) Close(ctx context.Context) error {
	c.closeMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.stop)
	}
	c.closeMu.Unlock()

	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ErrClosed
	}
}

// run is the worker loop: drain frames, service a pending snapshot request,
// then sleep until woken or the poll interval elapses.
func (c *Collector) run() {
	defer close(c.stopped)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		c.drainFrames(ctx)
		c.serviceSnapshot(ctx)

		select {
		case <-c.stop:
			// Final drain so a snapshot requested just before shutdown
			// still sees every produced frame.
			c.drainFrames(ctx)
			c.serviceSnapshot(ctx)
			return
		case <-c.wake:
		case <-ticker.C:
		}
	}
}

// drainFrames ingests everything currently queued and forwards counter
// deltas to metrics.
func (c *Collector) drainFrames(ctx context.Context) {
	depth := c.queue.Len()

	c.aggMu.Lock()
	n := c.queue.Drain(c.agg.Ingest)
	c.aggMu.Unlock()

	if c.met == nil {
		return
	}
	if n > 0 {
		c.met.FramesIngested.Add(ctx, int64(n))
	}
	c.met.QueueDepth.Record(ctx, int64(depth))
	if d := c.dropped.Load(); d > c.droppedPublished {
		c.met.FramesDropped.Add(ctx, int64(d-c.droppedPublished))
		c.droppedPublished = d
	}
}

// serviceSnapshot takes ownership of the pending request, if any, and runs
// the sink. All failures are contained here: they surface as a log line, a
// metric, and an unchanged last-write path.
func (c *Collector) serviceSnapshot(ctx context.Context) {
	if !c.requested.Swap(false) {
		return
	}

	c.reqMu.Lock()
	req := c.pending
	c.reqMu.Unlock()

	c.writing.Store(true)
	defer c.writing.Store(false)

	ctx, span := observe.StartSpan(ctx, "snapshot.write")
	defer span.End()

	start := time.Now()
	path, err := c.sink.WriteSnapshot(ctx, req, c.Stats())
	elapsed := time.Since(start)

	if err != nil {
		if c.met != nil {
			c.met.RecordSnapshotWrite(ctx, "error", elapsed.Seconds())
		}
		observe.Logger(ctx).Warn("snapshot write failed",
			"track_id", req.TrackID,
			"err", err,
		)
		return
	}

	c.lastPath.Store(&path)
	if c.met != nil {
		c.met.RecordSnapshotWrite(ctx, "ok", elapsed.Seconds())
	}
	observe.Logger(ctx).Info("snapshot written",
		"track_id", req.TrackID,
		"path", path,
		"duration", elapsed,
	)
}
