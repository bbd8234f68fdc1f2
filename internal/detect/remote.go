package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/technosupport/ts-ppe/internal/capture"
)

// RemoteDetector talks to a model service over HTTP. The frame JPEG goes up
// as the request body; the service answers with the people it found and the
// equipment classes it saw on each.
type RemoteDetector struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewRemoteDetector(baseURL, token string) *RemoteDetector {
	return &RemoteDetector{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (d *RemoteDetector) Name() string { return "remote" }

type remotePerson struct {
	BBox       BBox     `json:"bbox"`
	Confidence float64  `json:"confidence"`
	Equipment  []string `json:"equipment"`
}

type remoteResponse struct {
	Model  string         `json:"model"`
	People []remotePerson `json:"people"`
}

func (d *RemoteDetector) Detect(ctx context.Context, frame *capture.Frame, required []string, minConfidence float64) ([]Person, error) {
	q := url.Values{}
	q.Set("min_confidence", strconv.FormatFloat(minConfidence, 'f', 2, 64))
	if len(required) > 0 {
		q.Set("required", strings.Join(required, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/v1/detect?"+q.Encode(), bytes.NewReader(frame.Data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector status %d", resp.StatusCode)
	}

	var body remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("detector response: %w", err)
	}

	people := make([]Person, 0, len(body.People))
	for _, rp := range body.People {
		if rp.Confidence < minConfidence {
			continue
		}
		p := Person{
			BBox:       rp.BBox,
			Confidence: rp.Confidence,
			Equipment:  rp.Equipment,
		}
		p.Missing = missingFor(required, rp.Equipment)
		p.Compliant = len(p.Missing) == 0
		people = append(people, p)
	}
	return people, nil
}

// Healthy reports whether the model service answers its health endpoint.
// Used when a camera starts in auto mode to decide between live detection
// and simulation.
func (d *RemoteDetector) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
