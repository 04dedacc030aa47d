// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Instance
// model.
//
// Error semantics:
//   - When an instance is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/matriculahub/go-intake-pipeline/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the pipeline and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateInstance inserts a new messaging endpoint owned by schoolID. Used by
// provisioning; connection events never create instances.
func CreateInstance(ctx context.Context, db *gorm.DB, instanceKey, schoolID string) (*domain.Instance, error) {
	inst := &domain.Instance{
		ID:          uuid.NewString(),
		InstanceKey: instanceKey,
		SchoolID:    schoolID,
		Status:      domain.InstanceConnecting,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(inst).Error; err != nil {
		return nil, err
	}
	return inst, nil
}

// GetInstanceByKey fetches an instance by its provider-assigned key, or
// ErrNotFound if missing.
func GetInstanceByKey(ctx context.Context, db *gorm.DB, instanceKey string) (*domain.Instance, error) {
	var inst domain.Instance
	err := db.WithContext(ctx).
		Where("instance_key = ?", instanceKey).
		First(&inst).Error
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstances returns all instances ordered by key.
func ListInstances(ctx context.Context, db *gorm.DB) ([]domain.Instance, error) {
	var out []domain.Instance
	if err := db.WithContext(ctx).Order("instance_key ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetInstance fetches an instance by ID.
func GetInstance(ctx context.Context, db *gorm.DB, id string) (*domain.Instance, error) {
	var inst domain.Instance
	if err := db.WithContext(ctx).Where("id = ?", id).First(&inst).Error; err != nil {
		return nil, err
	}
	return &inst, nil
}

// UpdateInstanceStatus sets the connection status and stamps last_seen_at.
// Returns ErrNotFound when the instance does not exist.
func UpdateInstanceStatus(ctx context.Context, db *gorm.DB, id string, status domain.InstanceStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.Instance{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"last_seen_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateInstanceQR stores the current pairing payload and moves the instance
// to qr_pending. A nil qr clears the payload (pairing finished).
func UpdateInstanceQR(ctx context.Context, db *gorm.DB, id string, qr *string) error {
	updates := map[string]any{
		"qr_code":      qr,
		"last_seen_at": time.Now().UTC(),
	}
	if qr != nil {
		updates["status"] = domain.InstanceQRPending
	}
	res := db.WithContext(ctx).
		Model(&domain.Instance{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
