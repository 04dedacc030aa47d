package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OCRWebBackend calls a hosted OCR HTTP API: a JSON request carrying the
// base64-encoded image, bearer-token auth, and a JSON envelope with an
// application-level code in the response.
type OCRWebBackend struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ocrWebRequest is the request body for a recognition call.
type ocrWebRequest struct {
	Image    string `json:"image"`
	Language string `json:"language,omitempty"`
}

// ocrWebResponse is the provider's response envelope.
type ocrWebResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence,omitempty"`
	} `json:"data"`
}

// NewOCRWebBackend builds the hosted-API backend.
func NewOCRWebBackend(baseURL, token string, timeout time.Duration) *OCRWebBackend {
	return &OCRWebBackend{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name identifies this backend in logs and field sources.
func (b *OCRWebBackend) Name() string { return "ocrweb" }

// ExtractText submits the image and returns the recognized text.
func (b *OCRWebBackend) ExtractText(ctx context.Context, data []byte) (string, error) {
	reqBody := ocrWebRequest{
		Image:    base64.StdEncoding.EncodeToString(data),
		Language: "por",
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/recognize", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")

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
		return "", fmt.Errorf("ocrweb API status %d: %s", resp.StatusCode, string(body))
	}

	var result ocrWebResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	if result.Code != 0 {
		return "", fmt.Errorf("ocrweb API error: %s", result.Message)
	}
	return result.Data.Text, nil
}
