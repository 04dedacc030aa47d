package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/matriculahub/go-intake-pipeline/internal/config"
	"github.com/matriculahub/go-intake-pipeline/internal/domain"
)

// Result is the outcome of one extraction run.
type Result struct {
	// Type is the inferred document type, or the claimed type when the text
	// carries no recognizable signature.
	Type domain.DocumentType
	// Fields maps canonical field names to normalized values. raw_text is
	// always present when OCR returned anything.
	Fields map[string]string
	// Confidence is the share of required fields found, in [0..100].
	Confidence float64
	// NeedsReview is set when confidence falls below the configured warning
	// threshold.
	NeedsReview bool
	// Backend names the OCR provider that produced the text.
	Backend string
	// ProcessingTime is the wall-clock duration of the run.
	ProcessingTime time.Duration
}

// Engine runs the OCR backend and turns raw text into typed fields.
type Engine struct {
	backend Backend
	scratch *ScratchStore
	cfg     config.ExtractionConfig
}

// NewEngine wires the configured backend and the optional scratch store.
func NewEngine(cfg config.ExtractionConfig, scratch *ScratchStore) (*Engine, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{backend: backend, scratch: scratch, cfg: cfg}, nil
}

// Extract OCRs the attachment and pulls out the fields for its document
// type. claimedType is what the sender said the document is; the text
// signature wins when the two disagree.
func (e *Engine) Extract(ctx context.Context, objectName string, data []byte, contentType string, claimedType domain.DocumentType) (*Result, error) {
	start := time.Now()
	tracer := otel.Tracer("extract")
	ctx, span := tracer.Start(ctx, "Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("extract.backend", e.backend.Name()),
		attribute.Int("extract.bytes", len(data)),
	)

	e.scratch.Put(ctx, objectName, data, contentType)

	text, err := e.backend.ExtractText(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("ocr failed: %w", err)
	}

	docType := InferDocumentType(text)
	if docType == domain.DocTypeOther && claimedType != "" {
		docType = claimedType
	}
	if claimedType != "" && claimedType != docType {
		log.Warn().
			Str("claimed", string(claimedType)).
			Str("inferred", string(docType)).
			Msg("document type mismatch, using inferred type")
	}

	fields := make(map[string]string)
	if t := strings.TrimSpace(text); t != "" {
		fields[FieldRawText] = t
	}
	for _, fe := range extractorsByType[docType] {
		raw, ok := fe.extract(text)
		if !ok {
			continue
		}
		if v := NormalizeValue(fe.field, raw); v != "" {
			fields[fe.field] = v
		}
	}

	required := RequiredFields(docType)
	confidence := 100.0
	if len(required) > 0 {
		found := 0
		for _, f := range required {
			if _, ok := fields[f]; ok {
				found++
			}
		}
		confidence = float64(found) / float64(len(required)) * 100
	} else if fields[FieldRawText] == "" {
		confidence = 0
	}

	res := &Result{
		Type:           docType,
		Fields:         fields,
		Confidence:     confidence,
		NeedsReview:    confidence < e.cfg.WarnConfidence,
		Backend:        e.backend.Name(),
		ProcessingTime: time.Since(start),
	}
	span.SetAttributes(
		attribute.String("extract.doc_type", string(docType)),
		attribute.Float64("extract.confidence", confidence),
	)
	if res.NeedsReview {
		log.Warn().
			Str("object", objectName).
			Str("doc_type", string(docType)).
			Float64("confidence", confidence).
			Msg("low extraction confidence")
	}
	return res, nil
}
