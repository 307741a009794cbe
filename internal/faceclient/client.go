// Package faceclient talks to the face embedding microservice.
package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"presensi/internal/biometric"
)

// Quality is the per-face quality report of the embedding service.
type Quality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	PoseYaw   float64 `json:"pose_yaw"`
	PosePitch float64 `json:"pose_pitch"`
	PoseRoll  float64 `json:"pose_roll"`
	FaceSize  int     `json:"face_size"`
	IsFrontal bool    `json:"is_frontal"`
}

// Embedding is the service's answer for one image.
type Embedding struct {
	Vector        []float64 `json:"embedding"`
	Score         float64   `json:"score"`
	FacesDetected int       `json:"faces_detected"`
	Quality       *Quality  `json:"quality"`
}

// Client calls the face embedding microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip answers every request with a fixed dev embedding.
	Skip bool
	// MinScore rejects detections less confident than this as no face.
	MinScore float64
}

// New creates a client. Deadlines come from the caller's context; the
// HTTP timeout is only a backstop.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// skipVector is what the client returns in skip mode; dev seeds enroll students with it.
var skipVector = []float64{0.1, 0.2, 0.3}

// Embed posts the image to /embed.
func (c *Client) Embed(ctx context.Context, image []byte) (*Embedding, error) {
	if c.Skip {
		return &Embedding{
			Vector:        append([]float64(nil), skipVector...),
			Score:         0.95,
			FacesDetected: 1,
			Quality:       &Quality{Score: 0.85, IsFrontal: true},
		}, nil
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image required")
	}

	payload, err := json.Marshal(map[string]string{"image_base64": base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, err
	}
	var out Embedding
	if err := c.call(ctx, http.MethodPost, "/embed", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Extract implements biometric.Extractor with a single-face policy.
func (c *Client) Extract(ctx context.Context, image []byte) (biometric.Vector, error) {
	res, err := c.Embed(ctx, image)
	if err != nil {
		return nil, err
	}
	switch {
	case res.FacesDetected > 1:
		return nil, fmt.Errorf("%w: %d faces", biometric.ErrMultipleFaces, res.FacesDetected)
	case res.FacesDetected == 0 || len(res.Vector) == 0:
		return nil, biometric.ErrNoFaceDetected
	case c.MinScore > 0 && res.Score < c.MinScore:
		return nil, fmt.Errorf("%w: detection score %.2f below %.2f", biometric.ErrNoFaceDetected, res.Score, c.MinScore)
	}
	return biometric.Vector(res.Vector), nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

// call sends body (JSON, may be nil) and decodes the answer into out when non-nil.
func (c *Client) call(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("face service %s: %s: %s", path, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("face service %s: decode response: %w", path, err)
	}
	return nil
}
