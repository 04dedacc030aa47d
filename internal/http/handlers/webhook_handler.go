// Webhook ingress endpoints. The provider retries deliveries on non-2xx
// responses, so the contract is deliberately forgiving: only an envelope
// without an event name earns a 400; every routed event answers 200 with the
// outcome in the body, including business failures like an unknown instance.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/matriculahub/go-intake-pipeline/internal/http/middleware"
	"github.com/matriculahub/go-intake-pipeline/internal/queue"
	"github.com/matriculahub/go-intake-pipeline/internal/repo"
	"github.com/matriculahub/go-intake-pipeline/internal/webhook"
)

// Handler bundles the HTTP endpoints over their shared dependencies.
type Handler struct {
	db     *gorm.DB
	router *webhook.Router
	queue  *queue.Queue
}

// New constructs the handler set.
func New(db *gorm.DB, router *webhook.Router, q *queue.Queue) *Handler {
	return &Handler{db: db, router: router, queue: q}
}

// ReceiveWebhook handles POST /webhook and POST /webhook/:instanceKey. The
// path parameter, when present, overrides the envelope's instance field.
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	var env webhook.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if key := c.Param("instanceKey"); key != "" {
		env.Instance = key
	}
	if env.Event == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "event name is required")
		return
	}

	evt := webhook.ParseEvent(env.Event, env.Instance, env.Data)
	out, err := h.router.Handle(c.Request.Context(), evt)
	if err != nil {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Str("event", env.Event).Msg("webhook routing failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "event processing failed")
		return
	}

	body := gin.H{"success": out.Processed, "code": out.Code}
	if len(out.Results) > 0 {
		body["results"] = out.Results
	}
	ok(c, http.StatusOK, body)
}

// instanceStatus is the read model for GET /webhook/status.
type instanceStatus struct {
	InstanceKey string    `json:"instance_key"`
	Status      string    `json:"status"`
	HasQRCode   bool      `json:"has_qr_code"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// WebhookStatus handles GET /webhook/status: a liveness answer for the
// provider plus per-instance connection state. With ?instance=key it returns
// one instance, otherwise all of them.
func (h *Handler) WebhookStatus(c *gin.Context) {
	ctx := c.Request.Context()

	if key := c.Query("instance"); key != "" {
		inst, err := repo.GetInstanceByKey(ctx, h.db, key)
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeInstanceNotFound, "unknown instance")
			return
		}
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "instance lookup failed")
			return
		}
		ok(c, http.StatusOK, instanceStatus{
			InstanceKey: inst.InstanceKey,
			Status:      string(inst.Status),
			HasQRCode:   inst.QRCode != nil,
			LastSeenAt:  inst.LastSeenAt,
		})
		return
	}

	instances, err := repo.ListInstances(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "instance listing failed")
		return
	}
	out := make([]instanceStatus, 0, len(instances))
	for _, inst := range instances {
		out = append(out, instanceStatus{
			InstanceKey: inst.InstanceKey,
			Status:      string(inst.Status),
			HasQRCode:   inst.QRCode != nil,
			LastSeenAt:  inst.LastSeenAt,
		})
	}
	ok(c, http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"instances": out,
	})
}
