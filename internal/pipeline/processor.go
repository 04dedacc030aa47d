// Package pipeline owns the queue handlers that carry a media message from
// arrival to verdict: document_extraction OCRs the attachment and stores the
// fields, document_validation cross-checks them against the enrollment's
// other documents, send_confirmation acknowledges receipt to the guardian.
// Jobs are delivered at least once, so every handler checks for its own side
// effect before acting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/matriculahub/go-intake-pipeline/internal/config"
	"github.com/matriculahub/go-intake-pipeline/internal/domain"
	"github.com/matriculahub/go-intake-pipeline/internal/extract"
	"github.com/matriculahub/go-intake-pipeline/internal/notify"
	"github.com/matriculahub/go-intake-pipeline/internal/queue"
	"github.com/matriculahub/go-intake-pipeline/internal/repo"
	"github.com/matriculahub/go-intake-pipeline/internal/validate"
)

// Processor wires the pipeline's job handlers onto a queue.
type Processor struct {
	db        *gorm.DB
	queue     *queue.Queue
	extractor *extract.Engine
	validator *validate.Engine
	notifier  *notify.Notifier
	cfg       config.QueueConfig

	// mediaClient downloads provider attachments.
	mediaClient *http.Client
}

// NewProcessor builds the processor.
func NewProcessor(db *gorm.DB, q *queue.Queue, ex *extract.Engine, va *validate.Engine, n *notify.Notifier, cfg config.QueueConfig) *Processor {
	return &Processor{
		db:        db,
		queue:     q,
		extractor: ex,
		validator: va,
		notifier:  n,
		cfg:       cfg,
		mediaClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Register attaches the handlers. Must run before the queue starts.
func (p *Processor) Register() {
	p.queue.RegisterHandler(domain.JobDocumentExtraction, p.handleExtraction, p.cfg.ExtractWorkers)
	p.queue.RegisterHandler(domain.JobDocumentValidation, p.handleValidation, p.cfg.ValidateWorkers)
	p.queue.RegisterHandler(domain.JobSendConfirmation, p.handleConfirmation, 1)
}

func payloadString(job *domain.QueueJob, key string) (string, error) {
	v, ok := job.Payload[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("job %s: payload missing %q", job.ID, key)
	}
	return v, nil
}

// handleExtraction downloads the attachment, OCRs it, and persists the
// document with its extracted fields. Re-runs short-circuit on the document
// that the first run created.
func (p *Processor) handleExtraction(ctx context.Context, job *domain.QueueJob) error {
	messageID, err := payloadString(job, "message_id")
	if err != nil {
		return err
	}

	if doc, err := repo.GetDocumentByMessage(ctx, p.db, messageID); err == nil {
		log.Debug().Str("message_id", messageID).Str("document_id", doc.ID).Msg("extraction already done")
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	msg, err := repo.GetMessage(ctx, p.db, messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if !msg.HasMedia() {
		log.Warn().Str("message_id", messageID).Msg("extraction job for message without media")
		return nil
	}
	contact, err := repo.GetContact(ctx, p.db, msg.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	// Documents group by enrollment when one is linked; otherwise by contact,
	// so siblings from the same guardian still cross-validate.
	enrollmentID := contact.ID
	if contact.EnrollmentID != nil {
		enrollmentID = *contact.EnrollmentID
	}

	data, contentType, err := p.downloadMedia(ctx, *msg.MediaURL)
	if err != nil {
		return fmt.Errorf("download media: %w", err)
	}

	var claimed domain.DocumentType
	if v, ok := job.Payload["claimed_type"].(string); ok {
		claimed = domain.DocumentType(v)
	}
	objectName := fmt.Sprintf("%s/%s", enrollmentID, messageID)
	res, err := p.extractor.Extract(ctx, objectName, data, contentType, claimed)
	if err != nil {
		return err
	}

	doc, err := repo.CreateDocument(ctx, p.db, enrollmentID, &msg.ID, res.Type, *msg.MediaURL)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	rows := make([]domain.DocumentField, 0, len(res.Fields))
	for name, value := range res.Fields {
		rows = append(rows, domain.DocumentField{
			Name:       name,
			Value:      value,
			Confidence: res.Confidence,
			Source:     res.Backend,
		})
	}
	if err := repo.ReplaceDocumentFields(ctx, p.db, doc.ID, rows); err != nil {
		return fmt.Errorf("store fields: %w", err)
	}
	log.Info().
		Str("document_id", doc.ID).
		Str("doc_type", string(res.Type)).
		Float64("confidence", res.Confidence).
		Dur("processing_time", res.ProcessingTime).
		Msg("document extracted")

	if res.NeedsReview {
		// An unreadable or low-confidence extraction flags the document
		// itself; validation has nothing trustworthy to work with.
		if err := repo.UpdateDocumentStatus(ctx, p.db, doc.ID, domain.ValidationNeedsReview); err != nil {
			return fmt.Errorf("flag document for review: %w", err)
		}
		p.notifySchool(ctx, msg.InstanceID, notify.Payload{
			Title:       "Documento ilegível",
			Message:     fmt.Sprintf("Documento de %s precisa de revisão manual", contact.DisplayName),
			Kind:        "document_needs_review",
			RelatedID:   doc.ID,
			RelatedType: "document",
		})
	}

	if _, err := p.queue.Enqueue(ctx, domain.JobDocumentValidation, map[string]any{"document_id": doc.ID}, queue.Options{}); err != nil {
		return fmt.Errorf("enqueue validation: %w", err)
	}
	if _, err := p.queue.Enqueue(ctx, domain.JobSendConfirmation, map[string]any{
		"message_id": msg.ID,
		"contact_id": contact.ID,
	}, queue.Options{}); err != nil {
		// Confirmation is best-effort; the document is already safe.
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("confirmation enqueue failed")
	}
	return nil
}

// handleValidation cross-validates the document and notifies the school of
// the verdict. Re-validation appends to the trail, which is harmless, so no
// short-circuit is needed.
func (p *Processor) handleValidation(ctx context.Context, job *domain.QueueJob) error {
	documentID, err := payloadString(job, "document_id")
	if err != nil {
		return err
	}
	res, err := p.validator.Validate(ctx, documentID)
	if err != nil {
		return err
	}
	if len(res.Matches) == 0 {
		// Nothing to compare against yet; there is no verdict worth
		// announcing. The status set at extraction time stands.
		return nil
	}

	doc, err := repo.GetDocument(ctx, p.db, documentID)
	if err != nil {
		return err
	}
	if doc.MessageID == nil {
		return nil
	}
	msg, err := repo.GetMessage(ctx, p.db, *doc.MessageID)
	if err != nil {
		return err
	}
	p.notifySchool(ctx, msg.InstanceID, notify.Payload{
		Title:       "Documento validado",
		Message:     fmt.Sprintf("Documento %s: %s", doc.Type, res.Status),
		Kind:        "document_" + string(res.Status),
		Data:        map[string]string{"match_rate": fmt.Sprintf("%.2f", res.MatchRate)},
		RelatedID:   doc.ID,
		RelatedType: "document",
	})
	return nil
}

const confirmationText = "Recebemos seu documento e ele está em análise. Avisaremos assim que a revisão terminar."

// handleConfirmation records the outbound acknowledgement exactly once per
// contact and message.
func (p *Processor) handleConfirmation(ctx context.Context, job *domain.QueueJob) error {
	contactID, err := payloadString(job, "contact_id")
	if err != nil {
		return err
	}
	messageID, err := payloadString(job, "message_id")
	if err != nil {
		return err
	}
	msg, err := repo.GetMessage(ctx, p.db, messageID)
	if err != nil {
		return err
	}

	// At-least-once delivery: a retry after a crash must not greet twice.
	sent, err := repo.CountOutboundByContent(ctx, p.db, contactID, confirmationText)
	if err != nil {
		return err
	}
	if sent > 0 {
		return nil
	}

	_, err = repo.InsertMessage(ctx, p.db, repo.NewMessageParams{
		InstanceID: msg.InstanceID,
		ContactID:  contactID,
		ExternalID: "out-" + uuid.NewString(),
		Direction:  domain.DirectionOutbound,
		Content:    confirmationText,
	})
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		return err
	}
	log.Info().Str("contact_id", contactID).Msg("confirmation queued for delivery")
	return nil
}

func (p *Processor) notifySchool(ctx context.Context, instanceID string, payload notify.Payload) {
	inst, err := repo.GetInstance(ctx, p.db, instanceID)
	if err != nil {
		log.Warn().Err(err).Str("instance_id", instanceID).Msg("notify skipped, instance lookup failed")
		return
	}
	p.notifier.Send(ctx, notify.Audience{SchoolID: inst.SchoolID}, payload)
}

func (p *Processor) downloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := p.mediaClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media fetch status %d", resp.StatusCode)
	}
	// Provider media is bounded; 32 MiB covers any scanned document.
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}
