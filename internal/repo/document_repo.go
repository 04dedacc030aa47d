// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for documents,
// their flattened metadata rows, and the append-only validation trail.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/matriculahub/go-intake-pipeline/internal/domain"
)

// CreateDocument inserts a document attached to an enrollment. messageID links
// back to the inbound message the file arrived on, when there is one.
func CreateDocument(ctx context.Context, db *gorm.DB, enrollmentID string, messageID *string, docType domain.DocumentType, mediaURL string) (*domain.Document, error) {
	d := &domain.Document{
		ID:           uuid.NewString(),
		EnrollmentID: enrollmentID,
		MessageID:    messageID,
		Type:         docType,
		MediaURL:     mediaURL,
		Status:       domain.ValidationPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateDocumentStatus sets the document's processing status, or ErrNotFound.
// Extraction uses this to flag unreadable uploads before any validation runs.
func UpdateDocumentStatus(ctx context.Context, db *gorm.DB, id string, status domain.ValidationStatus) error {
	res := db.WithContext(ctx).Model(&domain.Document{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDocument fetches a document by ID, or ErrNotFound.
func GetDocument(ctx context.Context, db *gorm.DB, id string) (*domain.Document, error) {
	var d domain.Document
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDocumentByMessage returns the document created for an inbound message,
// or ErrNotFound. Extraction handlers use this to short-circuit re-runs.
func GetDocumentByMessage(ctx context.Context, db *gorm.DB, messageID string) (*domain.Document, error) {
	var d domain.Document
	err := db.WithContext(ctx).Where("message_id = ?", messageID).First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ReplaceDocumentFields writes the extracted field set for a document. The
// per-document field names are unique; a re-extraction overwrites values in
// place (the validation trail, not the field rows, is the audit record).
func ReplaceDocumentFields(ctx context.Context, db *gorm.DB, documentID string, fields []domain.DocumentField) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for i := range fields {
			fields[i].ID = uuid.NewString()
			fields[i].DocumentID = documentID
			fields[i].CreatedAt = now
		}
		if len(fields) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "document_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "confidence", "source"}),
		}).Create(&fields).Error
	})
}

// GetDocumentFields returns the extracted field rows for one document,
// ordered by name.
func GetDocumentFields(ctx context.Context, db *gorm.DB, documentID string) ([]domain.DocumentField, error) {
	var rows []domain.DocumentField
	err := db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListEnrollmentFields returns, for every other document under the same
// enrollment, its type and extracted field map. The current document is
// excluded so it is never compared against itself.
func ListEnrollmentFields(ctx context.Context, db *gorm.DB, enrollmentID, excludeDocumentID string) (map[string]EnrollmentDocFields, error) {
	var docs []domain.Document
	err := db.WithContext(ctx).
		Where("enrollment_id = ? AND id <> ?", enrollmentID, excludeDocumentID).
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]EnrollmentDocFields, len(docs))
	for _, d := range docs {
		var rows []domain.DocumentField
		if err := db.WithContext(ctx).Where("document_id = ?", d.ID).Find(&rows).Error; err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(rows))
		for _, r := range rows {
			fields[r.Name] = r.Value
		}
		out[d.ID] = EnrollmentDocFields{Type: d.Type, Fields: fields}
	}
	return out, nil
}

// EnrollmentDocFields is one sibling document's type and extracted values.
type EnrollmentDocFields struct {
	Type   domain.DocumentType
	Fields map[string]string
}

// AppendValidation records a verdict as a new document_validations row and
// moves the document's current status to it. Existing rows are never
// modified; re-validation appends.
func AppendValidation(ctx context.Context, db *gorm.DB, documentID string, status domain.ValidationStatus, overallConfidence, matchRate float64, matches any) (*domain.DocumentValidation, error) {
	raw, err := json.Marshal(matches)
	if err != nil {
		return nil, err
	}
	v := &domain.DocumentValidation{
		ID:                uuid.NewString(),
		DocumentID:        documentID,
		Status:            status,
		OverallConfidence: overallConfidence,
		MatchRate:         matchRate,
		Matches:           raw,
		CreatedAt:         time.Now().UTC(),
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.Document{}).
			Where("id = ?", documentID).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListValidations returns a document's validation trail, newest first.
func ListValidations(ctx context.Context, db *gorm.DB, documentID string) ([]domain.DocumentValidation, error) {
	var out []domain.DocumentValidation
	err := db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}
