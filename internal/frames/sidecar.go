package frames

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultMinConfidence drops classifier labels scored below it.
const DefaultMinConfidence = 0.5

// SidecarAnalyzer calls a local classification sidecar over HTTP.
//
//	POST /classify  (image/jpeg body) -> {"labels":[{"label":"mug","confidence":0.91}]}
//	POST /ocr       (image/jpeg body) -> {"lines":["EXIT"]}
//
// Stills are rendered locally.
type SidecarAnalyzer struct {
	baseURL       string
	minConfidence float64
	stillMaxDim   int
	stillQuality  int
	httpClient    *http.Client
}

// SidecarOptions configures a SidecarAnalyzer. Zero values select defaults.
type SidecarOptions struct {
	MinConfidence float64
	StillMaxDim   int
	StillQuality  int
	Timeout       time.Duration
}

// NewSidecarAnalyzer creates an analyzer for the sidecar at baseURL.
func NewSidecarAnalyzer(baseURL string, opts SidecarOptions) *SidecarAnalyzer {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &SidecarAnalyzer{
		baseURL:       strings.TrimRight(baseURL, "/"),
		minConfidence: opts.MinConfidence,
		stillMaxDim:   opts.StillMaxDim,
		stillQuality:  opts.StillQuality,
		httpClient:    &http.Client{Timeout: opts.Timeout},
	}
}

type classifyResponse struct {
	Labels []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"labels"`
}

type ocrResponse struct {
	Lines []string `json:"lines"`
}

// Classify returns the labels at or above the minimum confidence.
func (a *SidecarAnalyzer) Classify(ctx context.Context, f Frame) ([]string, error) {
	var resp classifyResponse
	if err := a.post(ctx, "/classify", f.Data, &resp); err != nil {
		return nil, fmt.Errorf("classifying frame: %w", err)
	}
	var labels []string
	for _, l := range resp.Labels {
		if l.Confidence >= a.minConfidence && strings.TrimSpace(l.Label) != "" {
			labels = append(labels, l.Label)
		}
	}
	return labels, nil
}

// RecognizeText returns the non-blank lines of text found in the frame.
func (a *SidecarAnalyzer) RecognizeText(ctx context.Context, f Frame) ([]string, error) {
	var resp ocrResponse
	if err := a.post(ctx, "/ocr", f.Data, &resp); err != nil {
		return nil, fmt.Errorf("recognizing text: %w", err)
	}
	var lines []string
	for _, l := range resp.Lines {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// ToStill downscales the frame to a compressed JPEG.
func (a *SidecarAnalyzer) ToStill(f Frame) ([]byte, error) {
	return EncodeStill(f.Data, a.stillMaxDim, a.stillQuality)
}

func (a *SidecarAnalyzer) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
