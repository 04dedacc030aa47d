// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the durable
// job queue.
//
// Concurrency contract: ClaimNextJob is the single gate between workers and
// pending rows. The claim is an UPDATE guarded on status='pending', so under
// concurrent pollers exactly one sees RowsAffected==1 for a given job id.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/matriculahub/go-intake-pipeline/internal/domain"
)

// InsertJob persists a new pending job and returns it.
func InsertJob(ctx context.Context, db *gorm.DB, jobType string, payload map[string]any, priority, maxAttempts int) (*domain.QueueJob, error) {
	now := time.Now().UTC()
	j := &domain.QueueJob{
		ID:          uuid.NewString(),
		Type:        jobType,
		Status:      domain.JobPending,
		Payload:     datatypes.JSONMap(payload),
		Priority:    priority,
		MaxAttempts: maxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(j).Error; err != nil {
		return nil, err
	}
	return j, nil
}

// ClaimNextJob atomically takes the most urgent runnable job of the given
// type: lowest priority value first, then oldest. It returns (nil, nil) when
// nothing is runnable. The returned job is already in processing state with
// attempts incremented.
func ClaimNextJob(ctx context.Context, db *gorm.DB, jobType string, now time.Time) (*domain.QueueJob, error) {
	for {
		var candidate domain.QueueJob
		err := db.WithContext(ctx).
			Where("type = ? AND status = ? AND next_run_at <= ?", jobType, domain.JobPending, now).
			Order("priority ASC, created_at ASC, id ASC").
			First(&candidate).Error
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := db.WithContext(ctx).
			Model(&domain.QueueJob{}).
			Where("id = ? AND status = ?", candidate.ID, domain.JobPending).
			Updates(map[string]any{
				"status":   domain.JobProcessing,
				"attempts": gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race for this id; try the next candidate.
			continue
		}
		candidate.Status = domain.JobProcessing
		candidate.Attempts++
		return &candidate, nil
	}
}

// MarkJobCompleted finishes a processing job.
func MarkJobCompleted(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("id = ? AND status = ?", id, domain.JobProcessing).
		Update("status", domain.JobCompleted).Error
}

// MarkJobFailed records a handler failure. Jobs with attempts left return to
// pending with next_run_at pushed out by backoff; exhausted jobs become
// failed (terminal). It reports whether the job is now terminal.
func MarkJobFailed(ctx context.Context, db *gorm.DB, job *domain.QueueJob, handlerErr error, backoff time.Duration) (terminal bool, err error) {
	updates := map[string]any{
		"last_error": handlerErr.Error(),
	}
	if job.Attempts >= job.MaxAttempts {
		updates["status"] = domain.JobFailed
		terminal = true
	} else {
		updates["status"] = domain.JobPending
		updates["next_run_at"] = time.Now().UTC().Add(backoff)
	}
	err = db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("id = ? AND status = ?", job.ID, domain.JobProcessing).
		Updates(updates).Error
	return terminal, err
}

// RequeueStaleJobs reverts processing rows back to pending. Called once at
// startup so jobs that were mid-flight during a crash are picked up again
// (at-least-once delivery; handlers are idempotent).
func RequeueStaleJobs(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("status = ?", domain.JobProcessing).
		Updates(map[string]any{
			"status":      domain.JobPending,
			"next_run_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// CountJobs returns the number of jobs of one type in one status.
func CountJobs(ctx context.Context, db *gorm.DB, jobType string, status domain.JobStatus) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("type = ? AND status = ?", jobType, status).
		Count(&total).Error
	return total, err
}

// CountCompletedSince returns how many jobs of one type completed after the
// cutoff, for the derived throughput metric.
func CountCompletedSince(ctx context.Context, db *gorm.DB, jobType string, since time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("type = ? AND status = ? AND updated_at >= ?", jobType, domain.JobCompleted, since).
		Count(&total).Error
	return total, err
}

// JobTypes lists the distinct job types present in the table.
func JobTypes(ctx context.Context, db *gorm.DB) ([]string, error) {
	var types []string
	err := db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Distinct("type").
		Order("type ASC").
		Pluck("type", &types).Error
	return types, err
}

// ListJobsPage returns a paginated slice of jobs, optionally filtered by
// status, newest first. Used by the internal ops endpoints.
func ListJobsPage(ctx context.Context, db *gorm.DB, status domain.JobStatus, offset, limit int) ([]domain.QueueJob, int64, error) {
	q := db.WithContext(ctx).Model(&domain.QueueJob{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.QueueJob
	err := q.Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}
