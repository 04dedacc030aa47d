package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/matriculahub/go-intake-pipeline/internal/config"
	"github.com/matriculahub/go-intake-pipeline/internal/domain"
	"github.com/matriculahub/go-intake-pipeline/internal/extract"
	"github.com/matriculahub/go-intake-pipeline/internal/notify"
	"github.com/matriculahub/go-intake-pipeline/internal/queue"
	"github.com/matriculahub/go-intake-pipeline/internal/repo"
	"github.com/matriculahub/go-intake-pipeline/internal/validate"
)

type pipelineEnv struct {
	db        *gorm.DB
	processor *Processor
	queue     *queue.Queue
	ocrText   string
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("pipeline_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	env := &pipelineEnv{db: db}

	// OCR daemon stand-in: returns whatever text the test sets.
	ocr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": env.ocrText})
	}))
	t.Cleanup(ocr.Close)

	ex, err := extract.NewEngine(config.ExtractionConfig{
		Backend:        "tessd",
		TessdURL:       ocr.URL,
		RequestTimeout: 5 * time.Second,
		WarnConfidence: 65,
	}, nil)
	if err != nil {
		t.Fatalf("extract engine: %v", err)
	}
	va := validate.NewEngine(db, config.ValidationConfig{
		SimilarityThreshold: 0.8,
		ValidCutoff:         0.8,
		ReviewCutoff:        0.6,
	})

	qcfg := config.QueueConfig{MaxAttempts: 3, BackoffBase: time.Second, ExtractWorkers: 1, ValidateWorkers: 1}
	q := queue.New(db, qcfg)
	env.queue = q
	env.processor = NewProcessor(db, q, ex, va, notify.New(config.NotifyConfig{}), qcfg)
	env.processor.Register()
	return env
}

// seedMediaMessage creates an instance, contact, and inbound media message
// whose attachment is served by a throwaway HTTP server.
func (e *pipelineEnv) seedMediaMessage(t *testing.T, externalID string) *domain.Message {
	t.Helper()
	ctx := context.Background()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(media.Close)

	inst, err := repo.CreateInstance(ctx, e.db, "inst-"+externalID, "school-1")
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	contact, err := repo.UpsertContact(ctx, e.db, inst.ID, "5511999000001", "Maria")
	if err != nil {
		t.Fatalf("upsert contact: %v", err)
	}
	kind, url := "image", media.URL
	msg, err := repo.InsertMessage(ctx, e.db, repo.NewMessageParams{
		InstanceID: inst.ID,
		ContactID:  contact.ID,
		ExternalID: externalID,
		Direction:  domain.DirectionInbound,
		Content:    "segue o documento",
		MediaKind:  &kind,
		MediaURL:   &url,
	})
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	return msg
}

func extractionJob(messageID string) *domain.QueueJob {
	return &domain.QueueJob{
		ID:      "job-" + messageID,
		Type:    domain.JobDocumentExtraction,
		Payload: datatypes.JSONMap{"message_id": messageID},
	}
}

func TestExtractionCreatesDocumentAndChainsJobs(t *testing.T) {
	env := newPipelineEnv(t)
	env.ocrText = "REGISTRO GERAL: 12.345.678-9\nNome: Maria Silva\nData de Nascimento: 05/03/2012"
	msg := env.seedMediaMessage(t, "wamid-1")
	ctx := context.Background()

	if err := env.processor.handleExtraction(ctx, extractionJob(msg.ID)); err != nil {
		t.Fatalf("handleExtraction: %v", err)
	}

	doc, err := repo.GetDocumentByMessage(ctx, env.db, msg.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if doc.Type != domain.DocTypeRG {
		t.Errorf("doc type = %q, want rg", doc.Type)
	}
	fields, err := repo.GetDocumentFields(ctx, env.db, doc.ID)
	if err != nil {
		t.Fatalf("get fields: %v", err)
	}
	byName := map[string]string{}
	for _, f := range fields {
		byName[f.Name] = f.Value
	}
	if byName["name"] != "maria silva" {
		t.Errorf("name field = %q", byName["name"])
	}
	if byName["number"] != "123456789" {
		t.Errorf("number field = %q", byName["number"])
	}

	var validationJobs, confirmJobs int64
	env.db.Model(&domain.QueueJob{}).Where("type = ?", domain.JobDocumentValidation).Count(&validationJobs)
	env.db.Model(&domain.QueueJob{}).Where("type = ?", domain.JobSendConfirmation).Count(&confirmJobs)
	if validationJobs != 1 {
		t.Errorf("validation jobs = %d, want 1", validationJobs)
	}
	if confirmJobs != 1 {
		t.Errorf("confirmation jobs = %d, want 1", confirmJobs)
	}
}

func TestExtractionRetryShortCircuits(t *testing.T) {
	env := newPipelineEnv(t)
	env.ocrText = "REGISTRO GERAL: 12.345.678-9\nNome: Maria Silva\nData de Nascimento: 05/03/2012"
	msg := env.seedMediaMessage(t, "wamid-2")
	ctx := context.Background()

	if err := env.processor.handleExtraction(ctx, extractionJob(msg.ID)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// At-least-once redelivery: same job runs again after a crash.
	if err := env.processor.handleExtraction(ctx, extractionJob(msg.ID)); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var docs int64
	env.db.Model(&domain.Document{}).Where("message_id = ?", msg.ID).Count(&docs)
	if docs != 1 {
		t.Errorf("documents = %d, want exactly 1", docs)
	}
	var validationJobs int64
	env.db.Model(&domain.QueueJob{}).Where("type = ?", domain.JobDocumentValidation).Count(&validationJobs)
	if validationJobs != 1 {
		t.Errorf("validation jobs = %d, want 1 (no re-enqueue)", validationJobs)
	}
}

func TestValidationHandlerRecordsVerdict(t *testing.T) {
	env := newPipelineEnv(t)
	env.ocrText = "REGISTRO GERAL: 12.345.678-9\nNome: Maria Silva\nData de Nascimento: 05/03/2012"
	msg := env.seedMediaMessage(t, "wamid-3")
	ctx := context.Background()

	if err := env.processor.handleExtraction(ctx, extractionJob(msg.ID)); err != nil {
		t.Fatalf("extraction: %v", err)
	}
	doc, err := repo.GetDocumentByMessage(ctx, env.db, msg.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}

	job := &domain.QueueJob{
		ID:      "vjob-1",
		Type:    domain.JobDocumentValidation,
		Payload: datatypes.JSONMap{"document_id": doc.ID},
	}
	if err := env.processor.handleValidation(ctx, job); err != nil {
		t.Fatalf("handleValidation: %v", err)
	}

	trail, err := repo.ListValidations(ctx, env.db, doc.ID)
	if err != nil {
		t.Fatalf("list validations: %v", err)
	}
	if len(trail) != 1 {
		t.Fatalf("trail = %d rows, want 1", len(trail))
	}
	// Only document so far under this contact: nothing to compare.
	if trail[0].Status != domain.ValidationPending {
		t.Errorf("status = %q, want pending", trail[0].Status)
	}
}

func TestConfirmationSentExactlyOnce(t *testing.T) {
	env := newPipelineEnv(t)
	msg := env.seedMediaMessage(t, "wamid-4")
	ctx := context.Background()

	job := &domain.QueueJob{
		ID:      "cjob-1",
		Type:    domain.JobSendConfirmation,
		Payload: datatypes.JSONMap{"message_id": msg.ID, "contact_id": msg.ContactID},
	}
	if err := env.processor.handleConfirmation(ctx, job); err != nil {
		t.Fatalf("first confirmation: %v", err)
	}
	if err := env.processor.handleConfirmation(ctx, job); err != nil {
		t.Fatalf("second confirmation: %v", err)
	}

	count, err := repo.CountOutboundByContent(ctx, env.db, msg.ContactID, confirmationText)
	if err != nil {
		t.Fatalf("count outbound: %v", err)
	}
	if count != 1 {
		t.Errorf("outbound confirmations = %d, want exactly 1", count)
	}
}

func TestExtractionMissingPayload(t *testing.T) {
	env := newPipelineEnv(t)

	job := &domain.QueueJob{ID: "bad", Type: domain.JobDocumentExtraction, Payload: datatypes.JSONMap{}}
	if err := env.processor.handleExtraction(context.Background(), job); err == nil {
		t.Fatal("expected error for missing message_id")
	}
}

func TestUnreadableExtractionFlagsNeedsReview(t *testing.T) {
	env := newPipelineEnv(t)
	env.ocrText = "   \n\t "
	msg := env.seedMediaMessage(t, "wamid-5")
	ctx := context.Background()

	if err := env.processor.handleExtraction(ctx, extractionJob(msg.ID)); err != nil {
		t.Fatalf("handleExtraction: %v", err)
	}
	doc, err := repo.GetDocumentByMessage(ctx, env.db, msg.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if doc.Status != domain.ValidationNeedsReview {
		t.Fatalf("document status = %q, want %q", doc.Status, domain.ValidationNeedsReview)
	}

	// Validation with nothing to compare must not downgrade the flag.
	job := &domain.QueueJob{
		ID:      "vjob-unreadable",
		Type:    domain.JobDocumentValidation,
		Payload: datatypes.JSONMap{"document_id": doc.ID},
	}
	if err := env.processor.handleValidation(ctx, job); err != nil {
		t.Fatalf("handleValidation: %v", err)
	}
	doc, err = repo.GetDocument(ctx, env.db, doc.ID)
	if err != nil {
		t.Fatalf("reload document: %v", err)
	}
	if doc.Status != domain.ValidationNeedsReview {
		t.Errorf("status after validation = %q, want %q", doc.Status, domain.ValidationNeedsReview)
	}
}
