package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Scanner reports vulnerability findings for an image reference.
type Scanner interface {
	Scan(ctx context.Context, imageRef string) ([]Finding, error)
}

// HTTPScanner calls a scan service speaking the Trivy report format.
type HTTPScanner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPScanner creates a scanner client for the given service base URL.
func NewHTTPScanner(baseURL string, timeout time.Duration) *HTTPScanner {
	return &HTTPScanner{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Ready probes the scan service health endpoint.
func (s *HTTPScanner) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("scan service unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scan service returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// scanRequest is the request body for the scan service.
type scanRequest struct {
	Image string `json:"image"`
}

// report mirrors the scanner's Trivy-style JSON report.
type report struct {
	ArtifactName string `json:"ArtifactName"`
	Results      []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			VulnerabilityID  string `json:"VulnerabilityID"`
			PkgName          string `json:"PkgName"`
			InstalledVersion string `json:"InstalledVersion"`
			Severity         string `json:"Severity"`
			Title            string `json:"Title"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

// Scan submits the image reference and normalizes the returned report.
func (s *HTTPScanner) Scan(ctx context.Context, imageRef string) ([]Finding, error) {
	body, err := json.Marshal(scanRequest{Image: imageRef})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/scan", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scan request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain for connection reuse; the status is all we report.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("scan service returned HTTP %d", resp.StatusCode)
	}

	var rep report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, fmt.Errorf("malformed scan report: %w", err)
	}

	var findings []Finding
	for _, result := range rep.Results {
		for _, v := range result.Vulnerabilities {
			findings = append(findings, Finding{
				ID:       v.VulnerabilityID,
				Package:  v.PkgName,
				Version:  v.InstalledVersion,
				Severity: ParseSeverity(v.Severity),
				Title:    v.Title,
			})
		}
	}
	return findings, nil
}
