// OCR backend selection. All backends expose the same narrow contract so the
// engine never cares which provider is configured.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/matriculahub/go-intake-pipeline/internal/config"
)

// Backend turns binary image/document data into raw text. Implementations
// must honor ctx cancellation; a timeout is an ordinary error that feeds the
// job retry policy.
type Backend interface {
	// Name identifies the backend in logs and field sources.
	Name() string
	// ExtractText runs OCR over the binary payload.
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// ErrBackendUnconfigured indicates the selected backend is missing its
// endpoint configuration.
var ErrBackendUnconfigured = errors.New("extract: backend not configured")

// NewBackend builds the configured backend.
func NewBackend(cfg config.ExtractionConfig) (Backend, error) {
	switch cfg.Backend {
	case "ocrweb":
		if cfg.OCRWebURL == "" {
			return nil, fmt.Errorf("%w: OCRWEB_URL is empty", ErrBackendUnconfigured)
		}
		return NewOCRWebBackend(cfg.OCRWebURL, cfg.OCRWebToken, cfg.RequestTimeout), nil
	case "tessd":
		if cfg.TessdURL == "" {
			return nil, fmt.Errorf("%w: TESSD_URL is empty", ErrBackendUnconfigured)
		}
		return NewTessdBackend(cfg.TessdURL, cfg.RequestTimeout), nil
	default:
		return nil, fmt.Errorf("extract: unknown backend %q", cfg.Backend)
	}
}
