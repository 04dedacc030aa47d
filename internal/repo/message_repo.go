// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model, including the idempotent insert that webhook re-delivery relies on.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/matriculahub/go-intake-pipeline/internal/domain"
)

// ErrDuplicate indicates the (instance_id, external_id) pair already exists;
// the original row is left untouched.
var ErrDuplicate = errors.New("duplicate")

// NewMessageParams carries the fields of one message to insert.
type NewMessageParams struct {
	InstanceID string
	ContactID  string
	ExternalID string
	Direction  domain.Direction
	Content    string
	MediaKind  *string
	MediaURL   *string
}

// InsertMessage inserts a message if the (instance_id, external_id) pair is
// unseen, relying on ON CONFLICT DO NOTHING so concurrent re-deliveries cannot
// both insert. When the pair exists it returns the existing row together with
// ErrDuplicate so the caller can skip re-enqueueing and re-notifying.
func InsertMessage(ctx context.Context, db *gorm.DB, p NewMessageParams) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		InstanceID:     p.InstanceID,
		ContactID:      p.ContactID,
		ExternalID:     p.ExternalID,
		Direction:      p.Direction,
		Content:        p.Content,
		MediaKind:      p.MediaKind,
		MediaURL:       p.MediaURL,
		DeliveryStatus: domain.DeliveryPending,
		CreatedAt:      time.Now().UTC(),
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instance_id"}, {Name: "external_id"}},
			DoNothing: true,
		}).
		Create(m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := GetMessageByExternalID(ctx, db, p.InstanceID, p.ExternalID)
		if err != nil {
			return nil, err
		}
		return existing, ErrDuplicate
	}
	return m, nil
}

// GetMessageByExternalID fetches a message by its provider-assigned id within
// one instance, or ErrNotFound.
func GetMessageByExternalID(ctx context.Context, db *gorm.DB, instanceID, externalID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("instance_id = ? AND external_id = ?", instanceID, externalID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// deliveryRank orders statuses so acknowledgements can only move forward
// (pending → sent → delivered → read). failed is terminal and always applies.
func deliveryRank(s domain.DeliveryStatus) int {
	switch s {
	case domain.DeliveryPending:
		return 0
	case domain.DeliverySent:
		return 1
	case domain.DeliveryDelivered:
		return 2
	case domain.DeliveryRead:
		return 3
	default:
		return -1
	}
}

// UpdateDeliveryStatus applies a provider acknowledgement to the message with
// the given external id. Out-of-order acks (e.g. "sent" after "read") are
// ignored and reported as a no-op (nil error), matching how re-deliveries are
// treated elsewhere.
func UpdateDeliveryStatus(ctx context.Context, db *gorm.DB, instanceID, externalID string, status domain.DeliveryStatus, at time.Time) error {
	m, err := GetMessageByExternalID(ctx, db, instanceID, externalID)
	if err != nil {
		return err
	}
	if status != domain.DeliveryFailed && deliveryRank(status) <= deliveryRank(m.DeliveryStatus) {
		return nil
	}
	updates := map[string]any{"delivery_status": status}
	switch status {
	case domain.DeliveryDelivered:
		updates["delivered_at"] = at
	case domain.DeliveryRead:
		updates["read_at"] = at
	}
	return db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", m.ID).
		Updates(updates).Error
}

// CountOutboundByContent reports how many outbound messages with the given
// content exist for a contact. Job handlers use this to keep external side
// effects idempotent (do not double-send a confirmation).
func CountOutboundByContent(ctx context.Context, db *gorm.DB, contactID, content string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("contact_id = ? AND direction = ? AND content = ?", contactID, domain.DirectionOutbound, content).
		Count(&total).Error
	return total, err
}
