package window

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/internal/frame"
)

// Snapshot is a read-only copy of a stream's window at push time, ordered
// oldest to newest. Snapshots are immutable and safe to share without
// locking; the temporal analyzer operates only on snapshots, never on the
// live buffer.
type Snapshot struct {
	StreamID string
	Frames   []*frame.Frame
	IsWarm   bool // false until the window has filled to capacity
}

// Len returns the number of frames in the snapshot.
func (s Snapshot) Len() int { return len(s.Frames) }

// Latest returns the newest frame in the snapshot, or nil when empty.
func (s Snapshot) Latest() *frame.Frame {
	if len(s.Frames) == 0 {
		return nil
	}
	return s.Frames[len(s.Frames)-1]
}

// ringWindow holds the last N frames for one stream. Strict FIFO: a push
// on a full window evicts exactly the oldest frame.
type ringWindow struct {
	frames     []*frame.Frame
	head       int // index of the oldest frame
	count      int
	lastActive time.Time
}

func (w *ringWindow) push(f *frame.Frame, now time.Time) {
	if w.count < len(w.frames) {
		w.frames[(w.head+w.count)%len(w.frames)] = f
		w.count++
	} else {
		w.frames[w.head] = f
		w.head = (w.head + 1) % len(w.frames)
	}
	w.lastActive = now
}

func (w *ringWindow) snapshot(streamID string) Snapshot {
	out := make([]*frame.Frame, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.frames[(w.head+i)%len(w.frames)]
	}
	return Snapshot{
		StreamID: streamID,
		Frames:   out,
		IsWarm:   w.count == len(w.frames),
	}
}

// Registry maintains per-stream frame windows. Windows are created lazily
// on first push and garbage-collected after the idle timeout.
type Registry struct {
	capacity    int
	idleTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	windows map[string]*ringWindow

	now func() time.Time
}

// NewRegistry creates a window registry with the given per-stream capacity.
func NewRegistry(capacity int, idleTimeout time.Duration, logger *zap.Logger) *Registry {
	if capacity <= 0 {
		capacity = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		capacity:    capacity,
		idleTimeout: idleTimeout,
		logger:      logger,
		windows:     make(map[string]*ringWindow),
		now:         time.Now,
	}
}

// Capacity returns the configured window size N.
func (r *Registry) Capacity() int { return r.capacity }

// Push appends a frame to the stream's window and returns an immutable
// snapshot of the window contents after the push.
func (r *Registry) Push(streamID string, f *frame.Frame) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[streamID]
	if !ok {
		w = &ringWindow{frames: make([]*frame.Frame, r.capacity)}
		r.windows[streamID] = w
	}
	w.push(f, r.now())
	return w.snapshot(streamID)
}

// Remove tears down the window for a stream. Called on disconnect.
func (r *Registry) Remove(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, streamID)
}

// ActiveStreams returns the number of streams with a live window.
func (r *Registry) ActiveStreams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// PruneIdle drops windows that have not seen a push within the idle
// timeout and returns how many were collected.
func (r *Registry) PruneIdle() int {
	if r.idleTimeout <= 0 {
		return 0
	}

	cutoff := r.now().Add(-r.idleTimeout)
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for id, w := range r.windows {
		if w.lastActive.Before(cutoff) {
			delete(r.windows, id)
			pruned++
		}
	}
	if pruned > 0 {
		r.logger.Debug("pruned idle windows", zap.Int("count", pruned))
	}
	return pruned
}

// StartGC runs PruneIdle on a fixed interval until stop is closed.
func (r *Registry) StartGC(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.PruneIdle()
			}
		}
	}()
}
