package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
)

// ErrInvalidFrame is returned for input that cannot be decoded or is below
// the minimum resolution. Caller-visible, never retried.
var ErrInvalidFrame = errors.New("invalid frame")

// Frame is a normalized, timestamped video frame. Owned by the pipeline
// invocation that created it and immutable after creation.
type Frame struct {
	StreamID   string
	Seq        uint64
	CapturedAt time.Time
	Data       []byte // JPEG-encoded pixel data
	Width      int
	Height     int
}

// NormalizerConfig configures frame normalization.
type NormalizerConfig struct {
	MaxDimension int // longest output edge, larger frames are downscaled
	MinWidth     int // inputs below this are rejected as invalid
	MinHeight    int
	JPEGQuality  int
}

// DefaultNormalizerConfig returns the normalizer defaults.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		MaxDimension: 640,
		MinWidth:     64,
		MinHeight:    64,
		JPEGQuality:  85,
	}
}

// Normalizer decodes and validates incoming images and produces uniform
// frames with a monotonically increasing sequence number per stream.
// Gaps in the sequence are expected: frames may be dropped upstream.
type Normalizer struct {
	cfg    NormalizerConfig
	logger *zap.Logger

	mu   sync.Mutex
	seqs map[string]uint64

	now func() time.Time
}

// NewNormalizer creates a frame normalizer.
func NewNormalizer(cfg NormalizerConfig, logger *zap.Logger) *Normalizer {
	if cfg.MaxDimension <= 0 {
		cfg = DefaultNormalizerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		cfg:    cfg,
		logger: logger,
		seqs:   make(map[string]uint64),
		now:    time.Now,
	}
}

// Normalize decodes raw image bytes into a Frame. It never blocks on
// downstream consumers; its only side effect is advancing the stream's
// sequence counter.
func (n *Normalizer) Normalize(streamID string, data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", ErrInvalidFrame)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode failed: %v", ErrInvalidFrame, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < n.cfg.MinWidth || h < n.cfg.MinHeight {
		return nil, fmt.Errorf("%w: resolution %dx%d below minimum %dx%d",
			ErrInvalidFrame, w, h, n.cfg.MinWidth, n.cfg.MinHeight)
	}

	encoded := data
	if w > n.cfg.MaxDimension || h > n.cfg.MaxDimension || format != "jpeg" {
		img, w, h = n.scale(img, w, h)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.cfg.JPEGQuality}); err != nil {
			return nil, fmt.Errorf("%w: re-encode failed: %v", ErrInvalidFrame, err)
		}
		encoded = buf.Bytes()
	}

	return &Frame{
		StreamID:   streamID,
		Seq:        n.nextSeq(streamID),
		CapturedAt: n.now(),
		Data:       encoded,
		Width:      w,
		Height:     h,
	}, nil
}

// scale downsizes img so its longest edge fits MaxDimension, preserving
// aspect ratio. Frames already within bounds are converted as-is.
func (n *Normalizer) scale(img image.Image, w, h int) (image.Image, int, int) {
	max := n.cfg.MaxDimension
	if w <= max && h <= max {
		return img, w, h
	}

	outW, outH := w, h
	if w >= h {
		outW = max
		outH = h * max / w
	} else {
		outH = max
		outW = w * max / h
	}
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst, outW, outH
}

func (n *Normalizer) nextSeq(streamID string) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seqs[streamID]++
	return n.seqs[streamID]
}

// Reset clears the sequence counter for a stream. Called on disconnect.
func (n *Normalizer) Reset(streamID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.seqs, streamID)
}
