package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/framelens/personcrop/internal/models"
	"github.com/framelens/personcrop/internal/render"
)

// HTTPDetector talks to an inference sidecar that runs the actual
// person-detection model. Frames are shipped as JPEG; larger batches
// amortize the fixed per-call cost on the accelerator side.
type HTTPDetector struct {
	baseURL    string
	params     Params
	httpClient *http.Client
}

// NewHTTPDetector creates a detector client. The sidecar owns model
// loading; HealthCheck surfaces a missing model as a startup failure.
func NewHTTPDetector(baseURL string, params Params, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{
		baseURL: baseURL,
		params:  params,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HealthCheck verifies the sidecar is up with its model loaded. The
// worker refuses to accept jobs when this fails.
func (d *HTTPDetector) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("detector unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

type detectRequest struct {
	Images     []string `json:"images"` // base64 JPEG, one per frame
	Confidence float64  `json:"confidence"`
	IoU        float64  `json:"iou"`
	Classes    []string `json:"classes"`
}

type detectResponse struct {
	Detections [][]models.Box `json:"detections"`
}

// Detect runs one batched model call and returns one Detection per
// frame in input order. A frame that cannot be encoded degrades to an
// empty Detection instead of failing the batch.
func (d *HTTPDetector) Detect(ctx context.Context, info models.VideoInfo, frames []*models.Frame) ([]models.Detection, error) {
	detections := make([]models.Detection, len(frames))
	images := make([]string, 0, len(frames))
	sent := make([]int, 0, len(frames)) // frame index per request image

	for i, frame := range frames {
		encoded, err := encodeJPEG(frame.Data, info.Width, info.Height)
		if err != nil {
			logrus.WithFields(logrus.Fields{"frame": frame.Index, "error": err}).
				Warn("frame encode failed, degrading to empty detection")
			continue
		}
		images = append(images, encoded)
		sent = append(sent, i)
	}
	if len(images) == 0 {
		return detections, nil
	}

	reqBody := detectRequest{
		Images:     images,
		Confidence: d.params.ConfThreshold,
		IoU:        d.params.IoUThreshold,
		Classes:    []string{"person"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detect call returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}
	if len(parsed.Detections) != len(images) {
		return nil, fmt.Errorf("detect response has %d entries for %d frames", len(parsed.Detections), len(images))
	}

	// The sidecar already applies thresholds; filter again so tuning is
	// enforced regardless of what the model server was configured with.
	for j, boxes := range parsed.Detections {
		detections[sent[j]] = models.Detection{Boxes: Filter(boxes, d.params)}
	}
	return detections, nil
}

func encodeJPEG(pix []byte, width, height int) (string, error) {
	if len(pix) < width*height*3 {
		return "", fmt.Errorf("short frame buffer: %d bytes for %dx%d", len(pix), width, height)
	}
	var buf bytes.Buffer
	img := render.NewBGR(pix, width, height)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return "", fmt.Errorf("jpeg encode failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
