package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matriculahub/go-intake-pipeline/internal/domain"
)

func TestClaimNextJob_PriorityThenAge(t *testing.T) {
	db := newTestDB(t, &domain.QueueJob{})
	ctx := context.Background()

	low, _ := InsertJob(ctx, db, "document_extraction", map[string]any{"n": "low"}, 9, 3)
	urgent, _ := InsertJob(ctx, db, "document_extraction", map[string]any{"n": "urgent"}, 1, 3)
	_ = low

	j, err := ClaimNextJob(ctx, db, "document_extraction", time.Now().UTC())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if j == nil || j.ID != urgent.ID {
		t.Fatalf("claimed %+v, want the priority-1 job", j)
	}
	if j.Status != domain.JobProcessing || j.Attempts != 1 {
		t.Errorf("claimed job state: status=%q attempts=%d", j.Status, j.Attempts)
	}
}

func TestClaimNextJob_RespectsNextRunAt(t *testing.T) {
	db := newTestDB(t, &domain.QueueJob{})
	ctx := context.Background()

	j, _ := InsertJob(ctx, db, "document_extraction", nil, 5, 3)
	// Push the job into the future, as a retry backoff would.
	future := time.Now().UTC().Add(time.Hour)
	db.Model(&domain.QueueJob{}).Where("id = ?", j.ID).Update("next_run_at", future)

	got, err := ClaimNextJob(ctx, db, "document_extraction", time.Now().UTC())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got != nil {
		t.Fatalf("claimed a backed-off job: %+v", got)
	}
}

func TestClaimNextJob_SingleWinnerUnderConcurrency(t *testing.T) {
	db := newTestDB(t, &domain.QueueJob{})
	ctx := context.Background()

	_, _ = InsertJob(ctx, db, "document_extraction", nil, 5, 3)

	const n = 8
	var wg sync.WaitGroup
	claims := make(chan *domain.QueueJob, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := ClaimNextJob(ctx, db, "document_extraction", time.Now().UTC())
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			claims <- j
		}()
	}
	wg.Wait()
	close(claims)

	var won int
	for j := range claims {
		if j != nil {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}
}

func TestMarkJobFailed_RetryThenTerminal(t *testing.T) {
	db := newTestDB(t, &domain.QueueJob{})
	ctx := context.Background()

	_, _ = InsertJob(ctx, db, "document_extraction", nil, 5, 2)
	handlerErr := errors.New("backend unavailable")

	// Attempt 1: retryable.
	j, _ := ClaimNextJob(ctx, db, "document_extraction", time.Now().UTC())
	terminal, err := MarkJobFailed(ctx, db, j, handlerErr, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("fail 1: %v", err)
	}
	if terminal {
		t.Fatal("attempt 1 of 2 must not be terminal")
	}

	// Attempt 2: exhausted.
	time.Sleep(20 * time.Millisecond)
	j, _ = ClaimNextJob(ctx, db, "document_extraction", time.Now().UTC())
	if j == nil {
		t.Fatal("retry not runnable after backoff")
	}
	terminal, err = MarkJobFailed(ctx, db, j, handlerErr, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("fail 2: %v", err)
	}
	if !terminal {
		t.Fatal("attempt 2 of 2 must be terminal")
	}

	// Never picked up again.
	time.Sleep(20 * time.Millisecond)
	got, _ := ClaimNextJob(ctx, db, "document_extraction", time.Now().UTC())
	if got != nil {
		t.Fatalf("terminal job claimed again: %+v", got)
	}

	var failed domain.QueueJob
	db.Where("type = ?", "document_extraction").First(&failed)
	if failed.Status != domain.JobFailed {
		t.Errorf("status = %q, want failed", failed.Status)
	}
	if failed.LastError == "" {
		t.Error("last_error not recorded")
	}
}

func TestRequeueStaleJobs(t *testing.T) {
	db := newTestDB(t, &domain.QueueJob{})
	ctx := context.Background()

	_, _ = InsertJob(ctx, db, "document_extraction", nil, 5, 3)
	j, _ := ClaimNextJob(ctx, db, "document_extraction", time.Now().UTC())
	if j == nil {
		t.Fatal("claim failed")
	}

	// Simulated crash: the processing row is still there on restart.
	n, err := RequeueStaleJobs(ctx, db)
	if err != nil {
		t.Fatalf("RequeueStaleJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued = %d, want 1", n)
	}
	got, _ := ClaimNextJob(ctx, db, "document_extraction", time.Now().UTC())
	if got == nil {
		t.Fatal("recovered job not claimable")
	}
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (recovery does not reset the count)", got.Attempts)
	}
}

func TestJobCountsAndListing(t *testing.T) {
	db := newTestDB(t, &domain.QueueJob{})
	ctx := context.Background()

	_, _ = InsertJob(ctx, db, "document_extraction", nil, 5, 3)
	_, _ = InsertJob(ctx, db, "document_validation", nil, 5, 3)
	j, _ := ClaimNextJob(ctx, db, "document_validation", time.Now().UTC())
	_ = MarkJobCompleted(ctx, db, j.ID)

	pending, _ := CountJobs(ctx, db, "document_extraction", domain.JobPending)
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
	done, _ := CountJobs(ctx, db, "document_validation", domain.JobCompleted)
	if done != 1 {
		t.Errorf("completed = %d, want 1", done)
	}
	recent, _ := CountCompletedSince(ctx, db, "document_validation", time.Now().UTC().Add(-time.Minute))
	if recent != 1 {
		t.Errorf("completed since = %d, want 1", recent)
	}

	types, err := JobTypes(ctx, db)
	if err != nil {
		t.Fatalf("JobTypes: %v", err)
	}
	if len(types) != 2 || types[0] != "document_extraction" || types[1] != "document_validation" {
		t.Errorf("types = %v", types)
	}

	jobs, total, err := ListJobsPage(ctx, db, "", 0, 10)
	if err != nil {
		t.Fatalf("ListJobsPage: %v", err)
	}
	if total != 2 || len(jobs) != 2 {
		t.Errorf("total=%d len=%d, want 2/2", total, len(jobs))
	}
	jobs, total, _ = ListJobsPage(ctx, db, domain.JobCompleted, 0, 10)
	if total != 1 || len(jobs) != 1 || jobs[0].Type != "document_validation" {
		t.Errorf("filtered listing wrong: total=%d jobs=%+v", total, jobs)
	}
}
