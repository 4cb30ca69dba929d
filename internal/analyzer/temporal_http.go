package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vigil/internal/threat"
	"vigil/internal/window"
)

// temporalRequest is the JSON payload sent to the motion classifier: the
// window frames in order, oldest first.
type temporalRequest struct {
	StreamID string   `json:"stream_id"`
	Frames   []string `json:"frames"` // base64-encoded JPEG, oldest first
}

// temporalResponse mirrors the motion classifier response.
type temporalResponse struct {
	Label           string  `json:"label"` // "violence", "suspicious", "none"
	Confidence      float64 `json:"confidence"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
}

// HTTPTemporalConfig configures the HTTP temporal analyzer.
type HTTPTemporalConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// HTTPTemporal calls a remote sequence classifier over HTTP. The service
// accepts the full frame window as JSON on /classify and exposes /health.
type HTTPTemporal struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPTemporal creates a temporal analyzer backed by a remote classifier.
func NewHTTPTemporal(cfg HTTPTemporalConfig, logger *zap.Logger) *HTTPTemporal {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTemporal{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// Name implements Temporal.
func (a *HTTPTemporal) Name() string { return "temporal-http" }

// IsHealthy probes the backend /health endpoint.
func (a *HTTPTemporal) IsHealthy() bool {
	resp, err := a.client.Get(a.endpoint + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Analyze classifies a window of frames. Cold windows produce a zero
// confidence score rather than calling the backend: an unfilled sequence
// carries no usable motion evidence, and returning zero (instead of
// skipping silently) keeps the contract explicit. Backend failures and
// timeouts surface as ErrUnavailable after a single bounded retry.
func (a *HTTPTemporal) Analyze(ctx context.Context, snap window.Snapshot) (*threat.Score, error) {
	if !snap.IsWarm {
		return &threat.Score{
			StreamID: snap.StreamID,
			Source:   threat.SourceTemporal,
			Category: threat.CategoryNone,
		}, nil
	}

	payload := temporalRequest{
		StreamID: snap.StreamID,
		Frames:   make([]string, 0, snap.Len()),
	}
	for _, f := range snap.Frames {
		payload.Frames = append(payload.Frames, base64.StdEncoding.EncodeToString(f.Data))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var result temporalResponse
	err = doWithRetry(ctx, func() error {
		return a.classify(ctx, body, &result)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &threat.Score{
		StreamID:   snap.StreamID,
		Source:     threat.SourceTemporal,
		Category:   labelToCategory(result.Label),
		Confidence: result.Confidence,
	}, nil
}

func (a *HTTPTemporal) classify(ctx context.Context, body []byte, out *temporalResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/classify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("classify returned status %d: %s", resp.StatusCode, b)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func labelToCategory(label string) threat.Category {
	switch label {
	case "violence", "fighting", "assault":
		return threat.CategoryViolence
	case "suspicious", "suspicious_activity":
		return threat.CategorySuspicious
	default:
		return threat.CategoryNone
	}
}

var _ Temporal = (*HTTPTemporal)(nil)
