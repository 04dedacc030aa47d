package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TessdBackend talks to a self-hosted tesseract daemon. The daemon accepts
// the raw image bytes and answers with a small JSON document.
type TessdBackend struct {
	baseURL    string
	httpClient *http.Client
}

type tessdResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// NewTessdBackend builds the local-daemon backend.
func NewTessdBackend(baseURL string, timeout time.Duration) *TessdBackend {
	return &TessdBackend{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (b *TessdBackend) Name() string { return "tessd" }

// ExtractText posts the raw image bytes and returns the recognized text.
func (b *TessdBackend) ExtractText(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/ocr?lang=por", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tessd status %d: %s", resp.StatusCode, string(body))
	}

	var result tessdResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("tessd error: %s", result.Error)
	}
	return result.Text, nil
}
