package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/matriculahub/go-intake-pipeline/internal/cache"
	"github.com/matriculahub/go-intake-pipeline/internal/domain"
	"github.com/matriculahub/go-intake-pipeline/internal/notify"
	"github.com/matriculahub/go-intake-pipeline/internal/queue"
	"github.com/matriculahub/go-intake-pipeline/internal/repo"
)

// Outcome codes. instance_not_found is a configuration error: the caller
// must not retry it.
const (
	CodeOK               = "ok"
	CodeIgnored          = "ignored"
	CodeInstanceNotFound = "instance_not_found"
	CodeMessageNotFound  = "message_not_found"
)

// Per-item codes for message batches.
const (
	ItemInserted  = "inserted"
	ItemDuplicate = "duplicate"
	ItemFailed    = "failed"
)

// ItemResult is the fate of one message inside a batch.
type ItemResult struct {
	ExternalID string `json:"external_id"`
	Code       string `json:"code"`
}

// Outcome is the result of routing one event.
type Outcome struct {
	Processed bool         `json:"processed"`
	Code      string       `json:"code"`
	Results   []ItemResult `json:"results,omitempty"`
}

// Router applies provider events to the durable store and triggers the
// downstream side effects: cache invalidation, job enqueue, notifications.
type Router struct {
	db       *gorm.DB
	cache    *cache.Cache
	queue    *queue.Queue
	notifier *notify.Notifier
}

// NewRouter wires the event router.
func NewRouter(db *gorm.DB, c *cache.Cache, q *queue.Queue, n *notify.Notifier) *Router {
	return &Router{db: db, cache: c, queue: q, notifier: n}
}

func instanceCacheKey(instanceKey string) string {
	return "instance:key:" + instanceKey
}

// resolveInstance looks the instance up through the cache. The cached copy
// is only trusted for identity fields; status updates always hit the store.
func (r *Router) resolveInstance(ctx context.Context, instanceKey string) (*domain.Instance, error) {
	raw, err := r.cache.GetOrCompute(ctx, instanceCacheKey(instanceKey), 0, func(ctx context.Context) ([]byte, error) {
		inst, err := repo.GetInstanceByKey(ctx, r.db, instanceKey)
		if err != nil {
			return nil, err
		}
		return json.Marshal(inst)
	})
	if err != nil {
		return nil, err
	}
	var inst domain.Instance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Handle routes one parsed event. Errors are returned only for transient
// store failures; every business condition maps to an Outcome code.
func (r *Router) Handle(ctx context.Context, evt Event) (Outcome, error) {
	tracer := otel.Tracer("webhook")
	ctx, span := tracer.Start(ctx, "Handle")
	defer span.End()
	span.SetAttributes(attribute.String("event.type", fmt.Sprintf("%T", evt)))

	switch e := evt.(type) {
	case ConnectionUpdate:
		return r.handleConnection(ctx, e)
	case QRUpdate:
		return r.handleQR(ctx, e)
	case MessagesUpsert:
		return r.handleUpsert(ctx, e)
	case MessageStatus:
		return r.handleStatus(ctx, e)
	case Unrecognized:
		log.Debug().Str("event", e.Name).Msg("unrecognized event dropped")
		return Outcome{Processed: false, Code: CodeIgnored}, nil
	default:
		return Outcome{Processed: false, Code: CodeIgnored}, nil
	}
}

// knownTransitions is the expected instance lifecycle. QR events move any
// state to qr_pending separately.
var knownTransitions = map[domain.InstanceStatus][]domain.InstanceStatus{
	domain.InstanceConnecting:   {domain.InstanceConnected},
	domain.InstanceConnected:    {domain.InstanceDisconnected},
	domain.InstanceQRPending:    {domain.InstanceConnected},
	domain.InstanceDisconnected: {domain.InstanceConnecting, domain.InstanceConnected},
}

func isKnownStatus(s domain.InstanceStatus) bool {
	switch s {
	case domain.InstanceConnecting, domain.InstanceConnected, domain.InstanceDisconnected, domain.InstanceQRPending:
		return true
	}
	return false
}

func expectedTransition(from, to domain.InstanceStatus) bool {
	for _, t := range knownTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (r *Router) handleConnection(ctx context.Context, e ConnectionUpdate) (Outcome, error) {
	inst, err := r.resolveInstance(ctx, e.InstanceKey)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn().Str("instance_key", e.InstanceKey).Msg("event for unknown instance")
		return Outcome{Processed: false, Code: CodeInstanceNotFound}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if inst.Status == e.Status {
		return Outcome{Processed: true, Code: CodeOK}, nil
	}

	switch {
	case !isKnownStatus(e.Status):
		log.Warn().
			Str("instance_key", e.InstanceKey).
			Str("status", string(e.Status)).
			Msg("unknown instance status stored verbatim")
	case !expectedTransition(inst.Status, e.Status):
		log.Warn().
			Str("instance_key", e.InstanceKey).
			Str("from", string(inst.Status)).
			Str("to", string(e.Status)).
			Msg("unexpected status transition")
	}

	if err := repo.UpdateInstanceStatus(ctx, r.db, inst.ID, e.Status); err != nil {
		return Outcome{}, err
	}
	r.cache.Delete(ctx, instanceCacheKey(e.InstanceKey))

	r.notifier.Send(ctx, notify.Audience{SchoolID: inst.SchoolID}, notify.Payload{
		Title:       "Conexão atualizada",
		Message:     fmt.Sprintf("Instância %s: %s", e.InstanceKey, e.Status),
		Kind:        "connection_update",
		RelatedID:   inst.ID,
		RelatedType: "instance",
	})
	log.Info().
		Str("instance_key", e.InstanceKey).
		Str("from", string(inst.Status)).
		Str("to", string(e.Status)).
		Msg("instance status updated")
	return Outcome{Processed: true, Code: CodeOK}, nil
}

func (r *Router) handleQR(ctx context.Context, e QRUpdate) (Outcome, error) {
	inst, err := r.resolveInstance(ctx, e.InstanceKey)
	if errors.Is(err, repo.ErrNotFound) {
		return Outcome{Processed: false, Code: CodeInstanceNotFound}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := repo.UpdateInstanceQR(ctx, r.db, inst.ID, e.QRCode); err != nil {
		return Outcome{}, err
	}
	r.cache.Delete(ctx, instanceCacheKey(e.InstanceKey))
	log.Info().Str("instance_key", e.InstanceKey).Bool("cleared", e.QRCode == nil).Msg("qr code updated")
	return Outcome{Processed: true, Code: CodeOK}, nil
}

func (r *Router) handleUpsert(ctx context.Context, e MessagesUpsert) (Outcome, error) {
	inst, err := r.resolveInstance(ctx, e.InstanceKey)
	if errors.Is(err, repo.ErrNotFound) {
		return Outcome{Processed: false, Code: CodeInstanceNotFound}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	results := make([]ItemResult, 0, len(e.Items))
	for _, item := range e.Items {
		code := r.handleOneMessage(ctx, inst, item)
		results = append(results, ItemResult{ExternalID: item.ExternalID, Code: code})
	}
	return Outcome{Processed: true, Code: CodeOK, Results: results}, nil
}

// handleOneMessage processes one batch item. A failure here never aborts the
// rest of the batch.
func (r *Router) handleOneMessage(ctx context.Context, inst *domain.Instance, item InboundMessage) string {
	if item.ExternalID == "" || item.From == "" {
		log.Warn().Str("instance_key", inst.InstanceKey).Msg("message without id or sender dropped")
		return ItemFailed
	}

	contact, err := repo.UpsertContact(ctx, r.db, inst.ID, item.From, item.SenderName)
	if err != nil {
		log.Error().Err(err).Str("external_id", item.ExternalID).Msg("contact upsert failed")
		return ItemFailed
	}
	r.cache.InvalidatePattern(ctx, "contact:"+inst.ID+":*")

	direction := domain.DirectionInbound
	if item.FromMe {
		direction = domain.DirectionOutbound
	}
	msg, err := repo.InsertMessage(ctx, r.db, repo.NewMessageParams{
		InstanceID: inst.ID,
		ContactID:  contact.ID,
		ExternalID: item.ExternalID,
		Direction:  direction,
		Content:    item.Content,
		MediaKind:  item.MediaKind,
		MediaURL:   item.MediaURL,
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// Redelivery: already persisted, already notified, already enqueued.
		log.Debug().Str("external_id", item.ExternalID).Msg("duplicate message delivery")
		return ItemDuplicate
	}
	if err != nil {
		log.Error().Err(err).Str("external_id", item.ExternalID).Msg("message insert failed")
		return ItemFailed
	}

	if msg.HasMedia() {
		payload := map[string]any{"message_id": msg.ID}
		if item.ClaimedType != "" {
			payload["claimed_type"] = string(item.ClaimedType)
		}
		if _, err := r.queue.Enqueue(ctx, domain.JobDocumentExtraction, payload, queue.Options{}); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("extraction enqueue failed")
		}
	}

	if direction == domain.DirectionInbound {
		r.notifier.Send(ctx, notify.Audience{SchoolID: inst.SchoolID}, notify.Payload{
			Title:       "Nova mensagem",
			Message:     fmt.Sprintf("%s enviou uma mensagem", contact.DisplayName),
			Kind:        "message_received",
			Data:        map[string]string{"contact_id": contact.ID},
			RelatedID:   msg.ID,
			RelatedType: "message",
		})
	}
	return ItemInserted
}

func (r *Router) handleStatus(ctx context.Context, e MessageStatus) (Outcome, error) {
	inst, err := r.resolveInstance(ctx, e.InstanceKey)
	if errors.Is(err, repo.ErrNotFound) {
		return Outcome{Processed: false, Code: CodeInstanceNotFound}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	at := e.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	err = repo.UpdateDeliveryStatus(ctx, r.db, inst.ID, e.ExternalID, e.Status, at)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn().Str("external_id", e.ExternalID).Msg("status update for unknown message")
		return Outcome{Processed: false, Code: CodeMessageNotFound}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Processed: true, Code: CodeOK}, nil
}
