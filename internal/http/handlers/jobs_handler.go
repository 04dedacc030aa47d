// Operational endpoints over the job queue. These sit under /internal and
// are meant for dashboards and on-call inspection, not for the provider.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/matriculahub/go-intake-pipeline/internal/domain"
	"github.com/matriculahub/go-intake-pipeline/internal/repo"
	"github.com/matriculahub/go-intake-pipeline/internal/utils"
)

const maxJobPageSize = 200

// ListJobs handles GET /internal/jobs. Supports ?status= filtering and
// 1-based ?page=/?size= pagination.
func (h *Handler) ListJobs(c *gin.Context) {
	status := domain.JobStatus(c.Query("status"))
	switch status {
	case "", domain.JobPending, domain.JobProcessing, domain.JobCompleted, domain.JobFailed:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status filter")
		return
	}

	page, size := utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("size"), 50),
		maxJobPageSize,
	)

	jobs, total, err := repo.ListJobsPage(c.Request.Context(), h.db, status, (page-1)*size, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "job listing failed")
		return
	}
	ok(c, http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

// QueueStats handles GET /internal/queue/stats: per-type counts plus the
// one-minute completion window.
func (h *Handler) QueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "queue stats failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"queues": stats})
}
