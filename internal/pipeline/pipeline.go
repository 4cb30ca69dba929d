// Package pipeline orchestrates frame analysis: normalization, concurrent
// spatial and temporal inference, fusion, deduplication, and dispatch.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/internal/alert"
	"vigil/internal/analyzer"
	"vigil/internal/frame"
	"vigil/internal/fusion"
	"vigil/internal/metrics"
	"vigil/internal/threat"
	"vigil/internal/window"
)

// ErrStreamBusy is returned when a frame arrives while the previous frame
// for the same stream is still in flight. The new frame is dropped rather
// than queued to keep per-frame latency bounded under load; drops are
// counted and observable.
var ErrStreamBusy = errors.New("stream busy, frame dropped")

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	FramesProcessed uint64 `json:"frames_processed"`
	FramesDropped   uint64 `json:"frames_dropped"`
	FramesInvalid   uint64 `json:"frames_invalid"`
	ThreatsDetected uint64 `json:"threats_detected"`
	AlertsPublished uint64 `json:"alerts_published"`
	ActiveStreams   int    `json:"active_streams"`
}

// Pipeline receives frames and turns them into threat decisions. Frames
// for different streams are processed independently; per stream, at most
// one frame is in flight at a time.
type Pipeline struct {
	normalizer *frame.Normalizer
	windows    *window.Registry
	spatial    analyzer.Spatial
	temporal   analyzer.Temporal
	engine     *fusion.Engine
	dedup      *alert.Deduplicator
	dispatcher *alert.Dispatcher
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger

	inflightMu sync.Mutex
	inflight   map[string]bool

	statsMu sync.Mutex
	stats   Stats
}

// Options bundles the pipeline's collaborators.
type Options struct {
	Normalizer      *frame.Normalizer
	Windows         *window.Registry
	Spatial         analyzer.Spatial
	Temporal        analyzer.Temporal
	Engine          *fusion.Engine
	Dedup           *alert.Deduplicator
	Dispatcher      *alert.Dispatcher
	AnalyzerTimeout time.Duration
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.AnalyzerTimeout <= 0 {
		opts.AnalyzerTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Pipeline{
		normalizer: opts.Normalizer,
		windows:    opts.Windows,
		spatial:    opts.Spatial,
		temporal:   opts.Temporal,
		engine:     opts.Engine,
		dedup:      opts.Dedup,
		dispatcher: opts.Dispatcher,
		timeout:    opts.AnalyzerTimeout,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		inflight:   make(map[string]bool),
	}
}

// Process runs one frame through the full pipeline and returns the
// resulting decision. Error cases:
//   - frame.ErrInvalidFrame: input rejected, no decision
//   - ErrStreamBusy: frame dropped under backpressure, no decision
//   - alert.ErrStorageWrite: decision returned alongside; the incident
//     write failed but the alert was still published per configuration
func (p *Pipeline) Process(ctx context.Context, streamID string, image []byte) (*threat.Decision, error) {
	fr, err := p.normalizer.Normalize(streamID, image)
	if err != nil {
		p.metrics.FramesInvalid.Inc()
		p.bumpStats(func(s *Stats) { s.FramesInvalid++ })
		return nil, err
	}
	p.metrics.FramesReceived.WithLabelValues(streamID).Inc()

	if !p.acquire(streamID) {
		p.metrics.FramesDropped.WithLabelValues(streamID).Inc()
		p.bumpStats(func(s *Stats) { s.FramesDropped++ })
		return nil, ErrStreamBusy
	}
	defer p.release(streamID)

	spatialScore, temporalScore := p.analyze(ctx, fr)

	dec := p.engine.Fuse(spatialScore, temporalScore, streamID, fr.Seq, fr.CapturedAt)
	p.metrics.Decisions.WithLabelValues(string(dec.Category)).Inc()
	p.bumpStats(func(s *Stats) {
		s.FramesProcessed++
		if dec.IsThreat {
			s.ThreatsDetected++
		}
	})

	if !dec.IsThreat {
		return dec, nil
	}

	if !p.dedup.Admit(dec) {
		p.metrics.AlertsSuppressed.WithLabelValues(streamID).Inc()
		return dec, nil
	}

	p.logger.Info("threat detected",
		zap.String("stream_id", streamID),
		zap.Uint64("frame_seq", fr.Seq),
		zap.String("category", string(dec.Category)),
		zap.Float64("confidence", dec.Confidence))

	if _, err := p.dispatcher.Dispatch(ctx, dec, fr); err != nil {
		if errors.Is(err, alert.ErrStorageWrite) {
			p.metrics.StorageFailures.Inc()
			// Under the liveness policy the alert still went out; the
			// failed write must not hide it from the counters.
			if p.dispatcher.Config().PublishOnStorageFailure {
				p.metrics.AlertsPublished.WithLabelValues(streamID).Inc()
				p.bumpStats(func(s *Stats) { s.AlertsPublished++ })
			}
		}
		return dec, err
	}
	p.metrics.AlertsPublished.WithLabelValues(streamID).Inc()
	p.bumpStats(func(s *Stats) { s.AlertsPublished++ })
	return dec, nil
}

// analyze fans out to both analyzers concurrently and joins before
// fusion. Analyzer failure or timeout yields a nil score for that stream:
// missing evidence, not a negative judgment. The temporal analyzer is
// skipped while the stream's window is cold; the spatial stream carries
// the stream alone until the window warms up.
func (p *Pipeline) analyze(ctx context.Context, fr *frame.Frame) (spatialScore, temporalScore *threat.Score) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		score, err := p.spatial.Analyze(sctx, fr)
		if err != nil {
			p.metrics.AnalyzerFailures.WithLabelValues(string(threat.SourceSpatial)).Inc()
			p.logger.Warn("spatial analyzer unavailable",
				zap.String("stream_id", fr.StreamID),
				zap.Uint64("frame_seq", fr.Seq),
				zap.Error(err))
			return
		}
		spatialScore = score
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		snap := p.windows.Push(fr.StreamID, fr)
		if !snap.IsWarm {
			return
		}

		tctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		score, err := p.temporal.Analyze(tctx, snap)
		if err != nil {
			p.metrics.AnalyzerFailures.WithLabelValues(string(threat.SourceTemporal)).Inc()
			p.logger.Warn("temporal analyzer unavailable",
				zap.String("stream_id", fr.StreamID),
				zap.Uint64("frame_seq", fr.Seq),
				zap.Error(err))
			return
		}
		temporalScore = score
	}()

	wg.Wait()
	return spatialScore, temporalScore
}

// Teardown releases all per-stream state: window, alert history, and
// sequence counter. Called when a stream disconnects.
func (p *Pipeline) Teardown(streamID string) {
	p.windows.Remove(streamID)
	p.dedup.Reset(streamID)
	p.normalizer.Reset(streamID)

	p.inflightMu.Lock()
	delete(p.inflight, streamID)
	p.inflightMu.Unlock()

	p.logger.Info("stream torn down", zap.String("stream_id", streamID))
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	s := p.stats
	p.statsMu.Unlock()
	s.ActiveStreams = p.windows.ActiveStreams()
	return s
}

// AnalyzerHealth reports each analyzer's availability.
func (p *Pipeline) AnalyzerHealth() map[string]bool {
	return map[string]bool{
		p.spatial.Name():  p.spatial.IsHealthy(),
		p.temporal.Name(): p.temporal.IsHealthy(),
	}
}

func (p *Pipeline) acquire(streamID string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if p.inflight[streamID] {
		return false
	}
	p.inflight[streamID] = true
	return true
}

func (p *Pipeline) release(streamID string) {
	p.inflightMu.Lock()
	delete(p.inflight, streamID)
	p.inflightMu.Unlock()
}

func (p *Pipeline) bumpStats(fn func(*Stats)) {
	p.statsMu.Lock()
	fn(&p.stats)
	p.statsMu.Unlock()
}
