package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/internal/frame"
	"vigil/internal/threat"
)

// healthCacheTTL caches a positive backend health check.
const healthCacheTTL = 30 * time.Second

// spatialDetection mirrors one detection in the backend response.
type spatialDetection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
}

// spatialResponse mirrors the object detection service response.
type spatialResponse struct {
	Detections      []spatialDetection `json:"detections"`
	Count           int                `json:"count"`
	InferenceTimeMs float64            `json:"inference_time_ms"`
	Device          string             `json:"device"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// HTTPSpatialConfig configures the HTTP spatial analyzer.
type HTTPSpatialConfig struct {
	Endpoint      string
	Timeout       time.Duration
	ConfThreshold float64
}

// HTTPSpatial calls a remote object detection service over HTTP. The
// service accepts a multipart frame upload on /detect and exposes /health.
// Stateless across calls; safe for concurrent use.
type HTTPSpatial struct {
	endpoint      string
	client        *http.Client
	confThreshold float64
	logger        *zap.Logger

	mu          sync.RWMutex
	healthCheck time.Time
}

// NewHTTPSpatial creates a spatial analyzer backed by a remote detector.
func NewHTTPSpatial(cfg HTTPSpatialConfig, logger *zap.Logger) *HTTPSpatial {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.ConfThreshold <= 0 {
		cfg.ConfThreshold = 0.25
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSpatial{
		endpoint:      cfg.Endpoint,
		client:        &http.Client{Timeout: cfg.Timeout},
		confThreshold: cfg.ConfThreshold,
		logger:        logger,
	}
}

// Name implements Spatial.
func (a *HTTPSpatial) Name() string { return "spatial-http" }

// IsHealthy probes the backend /health endpoint, caching a positive result.
func (a *HTTPSpatial) IsHealthy() bool {
	a.mu.RLock()
	fresh := time.Since(a.healthCheck) < healthCacheTTL
	a.mu.RUnlock()
	if fresh {
		return true
	}

	resp, err := a.client.Get(a.endpoint + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil || !health.ModelLoaded {
		return false
	}

	a.mu.Lock()
	a.healthCheck = time.Now()
	a.mu.Unlock()
	return true
}

// Analyze runs object detection on one frame and converts the raw
// detections into a stream score. Backend failures and timeouts surface
// as ErrUnavailable after a single bounded retry.
func (a *HTTPSpatial) Analyze(ctx context.Context, f *frame.Frame) (*threat.Score, error) {
	var result spatialResponse
	err := doWithRetry(ctx, func() error {
		return a.detect(ctx, f.Data, &result)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return a.toScore(f.StreamID, result), nil
}

func (a *HTTPSpatial) detect(ctx context.Context, imageData []byte, out *spatialResponse) error {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return err
	}
	if _, err := fw.Write(imageData); err != nil {
		return err
	}
	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.3f", a.confThreshold)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/detect", &b)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("detect returned status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// toScore reduces raw detections to a single spatial score: the highest
// weapon-class confidence wins; non-weapon detections leave the category
// at none.
func (a *HTTPSpatial) toScore(streamID string, result spatialResponse) *threat.Score {
	score := &threat.Score{
		StreamID: streamID,
		Source:   threat.SourceSpatial,
		Category: threat.CategoryNone,
	}

	for _, d := range result.Detections {
		det := threat.Detection{
			Class:      d.Class,
			Confidence: d.Confidence,
		}
		if len(d.BBox) == 4 {
			det.BBox = threat.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]}
		}
		score.Detections = append(score.Detections, det)

		if isWeaponClass(d.Class) && d.Confidence > score.Confidence {
			score.Category = threat.CategoryWeapon
			score.Confidence = d.Confidence
		}
	}
	return score
}

var _ Spatial = (*HTTPSpatial)(nil)
