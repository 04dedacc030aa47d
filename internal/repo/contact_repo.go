// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Contact
// model.
//
// UpsertContact is the only write path for contacts reached from webhook
// processing. It must stay a single atomic statement: concurrent deliveries
// referencing the same external address race on the
// (instance_id, external_address) unique index, and read-then-write here
// would produce duplicates or constraint errors.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/matriculahub/go-intake-pipeline/internal/domain"
)

// UpsertContact inserts a contact for (instanceID, externalAddress) or, on
// conflict, refreshes the display name and last-activity timestamp. It returns
// the persisted row in either case.
func UpsertContact(ctx context.Context, db *gorm.DB, instanceID, externalAddress, displayName string) (*domain.Contact, error) {
	now := time.Now().UTC()
	c := &domain.Contact{
		ID:              uuid.NewString(),
		InstanceID:      instanceID,
		ExternalAddress: externalAddress,
		DisplayName:     displayName,
		LastActivityAt:  now,
		CreatedAt:       now,
	}
	assignments := map[string]any{
		"last_activity_at": now,
		"updated_at":       now,
	}
	// Deliveries without a push name carry an empty displayName; a known
	// name must survive those.
	if displayName != "" {
		assignments["display_name"] = displayName
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instance_id"}, {Name: "external_address"}},
			DoUpdates: clause.Assignments(assignments),
		}).
		Create(c).Error
	if err != nil {
		return nil, err
	}
	// The ON CONFLICT path keeps the existing row's id; re-read to return it.
	var out domain.Contact
	err = db.WithContext(ctx).
		Where("instance_id = ? AND external_address = ?", instanceID, externalAddress).
		First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetContact fetches a contact by ID, or ErrNotFound.
func GetContact(ctx context.Context, db *gorm.DB, id string) (*domain.Contact, error) {
	var c domain.Contact
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// LinkContactEnrollment attaches an enrollment to a contact. Returns
// ErrNotFound when the contact does not exist.
func LinkContactEnrollment(ctx context.Context, db *gorm.DB, contactID, enrollmentID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("id = ?", contactID).
		Update("enrollment_id", enrollmentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignContactAgent sets the attending agent and the attendance flag.
// A nil agentID releases the contact back to the unassigned pool.
func AssignContactAgent(ctx context.Context, db *gorm.DB, contactID string, agentID *string) error {
	res := db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("id = ?", contactID).
		Updates(map[string]any{
			"assigned_agent_id": agentID,
			"attending":         agentID != nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
