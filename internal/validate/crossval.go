package validate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/matriculahub/go-intake-pipeline/internal/config"
	"github.com/matriculahub/go-intake-pipeline/internal/domain"
	"github.com/matriculahub/go-intake-pipeline/internal/extract"
	"github.com/matriculahub/go-intake-pipeline/internal/repo"
)

// FieldMatch is one field-level comparison against a sibling document.
type FieldMatch struct {
	Field           string  `json:"field"`
	OtherDocumentID string  `json:"other_document_id"`
	OtherType       string  `json:"other_type"`
	Value           string  `json:"value"`
	OtherValue      string  `json:"other_value"`
	Similarity      float64 `json:"similarity"`
	Matched         bool    `json:"matched"`
}

// Result is one completed validation run.
type Result struct {
	Status            domain.ValidationStatus
	OverallConfidence float64
	MatchRate         float64
	Matches           []FieldMatch
}

// Engine runs cross-validation for documents.
type Engine struct {
	db  *gorm.DB
	cfg config.ValidationConfig
}

// NewEngine builds a validation engine over the given store.
func NewEngine(db *gorm.DB, cfg config.ValidationConfig) *Engine {
	return &Engine{db: db, cfg: cfg}
}

// Validate compares the document's extracted fields against every sibling
// document of the same enrollment, records the verdict on the validation
// trail, and returns it. A document with nothing to compare against stays
// pending until siblings arrive, unless extraction already marked it
// needs_review, in which case that status is kept.
func (e *Engine) Validate(ctx context.Context, documentID string) (*Result, error) {
	tracer := otel.Tracer("validate")
	ctx, span := tracer.Start(ctx, "Validate")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	doc, err := repo.GetDocument(ctx, e.db, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	ownRows, err := repo.GetDocumentFields(ctx, e.db, documentID)
	if err != nil {
		return nil, fmt.Errorf("load fields: %w", err)
	}
	siblings, err := repo.ListEnrollmentFields(ctx, e.db, doc.EnrollmentID, documentID)
	if err != nil {
		return nil, fmt.Errorf("load sibling fields: %w", err)
	}

	var (
		matches []FieldMatch
		matched int
	)
	for _, row := range ownRows {
		if row.Name == extract.FieldRawText {
			continue
		}
		for otherID, sib := range siblings {
			if !Comparable(row.Name, doc.Type, sib.Type) {
				continue
			}
			otherValue, ok := sib.Fields[row.Name]
			if !ok || otherValue == "" {
				// Missing on one side is absence of evidence, not a mismatch.
				continue
			}
			sim := Similarity(row.Value, otherValue)
			m := FieldMatch{
				Field:           row.Name,
				OtherDocumentID: otherID,
				OtherType:       string(sib.Type),
				Value:           row.Value,
				OtherValue:      otherValue,
				Similarity:      sim,
				Matched:         sim >= e.cfg.SimilarityThreshold,
			}
			matches = append(matches, m)
			if m.Matched {
				matched++
			}
		}
	}
	// Rows carry extraction confidence in [0..100]; raw_text counts too.
	var confidence float64
	if n := len(ownRows); n > 0 {
		for _, row := range ownRows {
			confidence += row.Confidence
		}
		confidence /= float64(n)
	}

	res := &Result{OverallConfidence: confidence, Matches: matches}
	if len(matches) == 0 {
		// No comparable fields is absence of evidence, not a verdict. A
		// document already flagged at extraction time keeps that flag.
		res.Status = domain.ValidationPending
		if doc.Status == domain.ValidationNeedsReview {
			res.Status = domain.ValidationNeedsReview
		}
	} else {
		res.MatchRate = float64(matched) / float64(len(matches))
		switch {
		case res.MatchRate >= e.cfg.ValidCutoff:
			res.Status = domain.ValidationValid
		case res.MatchRate >= e.cfg.ReviewCutoff:
			res.Status = domain.ValidationNeedsReview
		default:
			res.Status = domain.ValidationInvalid
		}
	}

	if _, err := repo.AppendValidation(ctx, e.db, documentID, res.Status, res.OverallConfidence, res.MatchRate, res.Matches); err != nil {
		return nil, fmt.Errorf("record validation: %w", err)
	}

	span.SetAttributes(
		attribute.String("validation.status", string(res.Status)),
		attribute.Float64("validation.match_rate", res.MatchRate),
	)
	log.Info().
		Str("document_id", documentID).
		Str("status", string(res.Status)).
		Float64("match_rate", res.MatchRate).
		Int("comparisons", len(matches)).
		Msg("document validated")
	return res, nil
}
