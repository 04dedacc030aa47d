// Package domain defines the persistence models for messaging instances,
// contacts, messages, enrollment documents and their validations, and the
// durable job queue. These types are mapped with GORM and form the core data
// layer of the intake pipeline.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// InstanceStatus enumerates the connection lifecycle of a messaging endpoint.
type InstanceStatus string

const (
	InstanceConnecting   InstanceStatus = "connecting"
	InstanceConnected    InstanceStatus = "connected"
	InstanceDisconnected InstanceStatus = "disconnected"
	InstanceQRPending    InstanceStatus = "qr_pending"
)

// Direction distinguishes inbound from outbound messages.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus tracks provider acknowledgement of a message.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DocumentType classifies an enrollment document.
type DocumentType string

const (
	DocTypeRG               DocumentType = "rg"
	DocTypeCPF              DocumentType = "cpf"
	DocTypeProofOfAddress   DocumentType = "proof_of_address"
	DocTypeSchoolRecord     DocumentType = "school_record"
	DocTypeBirthCertificate DocumentType = "birth_certificate"
	DocTypeOther            DocumentType = "other"
)

// ValidationStatus is the verdict of document processing. Low confidence and
// field mismatches are verdicts, not errors.
type ValidationStatus string

const (
	ValidationPending     ValidationStatus = "pending"
	ValidationValid       ValidationStatus = "valid"
	ValidationInvalid     ValidationStatus = "invalid"
	ValidationNeedsReview ValidationStatus = "needs_review"
)

// JobStatus enumerates the lifecycle of a queued job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job types the pipeline registers handlers for.
const (
	JobDocumentExtraction = "document_extraction"
	JobDocumentValidation = "document_validation"
	JobSendConfirmation   = "send_confirmation"
)

// Instance represents one connected messaging endpoint. Instances are created
// by provisioning; only connection events transition their status.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - InstanceKey: provider-assigned key, unique across the deployment.
//   - SchoolID: owning organization, used as the notification audience.
//   - Status: connecting|connected|disconnected|qr_pending; unknown provider
//     values are stored verbatim and logged by the event router.
//   - QRCode: current pairing payload, only set while pairing is in progress.
//   - LastSeenAt: last connection-event timestamp.
type Instance struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	InstanceKey string         `json:"instance_key" gorm:"type:varchar(64);not null;uniqueIndex"`
	SchoolID    string         `json:"school_id"    gorm:"type:varchar(64);not null;index"`
	Status      InstanceStatus `json:"status"       gorm:"type:varchar(32);not null;default:'connecting'"`
	QRCode      *string        `json:"qr_code,omitempty" gorm:"type:text"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Instance.
func (Instance) TableName() string { return "instances" }

// Contact is one messaging counterpart known to one instance. The
// (instance_id, external_address) pair is unique; creation is an upsert and
// never produces duplicates. Assignment state and the linked enrollment are
// typed columns rather than a metadata blob.
type Contact struct {
	ID              string    `json:"id"               gorm:"type:char(36);primaryKey"`
	InstanceID      string    `json:"instance_id"      gorm:"type:char(36);not null;uniqueIndex:ux_contact_instance_addr,priority:1"`
	ExternalAddress string    `json:"external_address" gorm:"type:varchar(128);not null;uniqueIndex:ux_contact_instance_addr,priority:2"`
	DisplayName     string    `json:"display_name"     gorm:"type:varchar(255)"`
	EnrollmentID    *string   `json:"enrollment_id,omitempty"     gorm:"type:char(36);index"`
	AssignedAgentID *string   `json:"assigned_agent_id,omitempty" gorm:"type:char(36)"`
	Attending       bool      `json:"attending"        gorm:"not null;default:false"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Instance Instance `json:"-" gorm:"foreignKey:InstanceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// Message is one inbound or outbound unit of conversation. The provider's
// external id is unique per instance: re-delivery of the same provider event
// must not create a second row.
type Message struct {
	ID             string         `json:"id"          gorm:"type:char(36);primaryKey"`
	InstanceID     string         `json:"instance_id" gorm:"type:char(36);not null;uniqueIndex:ux_message_instance_ext,priority:1"`
	ExternalID     string         `json:"external_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_message_instance_ext,priority:2"`
	ContactID      string         `json:"contact_id"  gorm:"type:char(36);not null;index"`
	Direction      Direction      `json:"direction"   gorm:"type:varchar(16);not null;check:direction IN ('inbound','outbound')"`
	Content        string         `json:"content"     gorm:"type:text"`
	MediaKind      *string        `json:"media_kind,omitempty" gorm:"type:varchar(32)"`
	MediaURL       *string        `json:"media_url,omitempty"  gorm:"type:text"`
	DeliveryStatus DeliveryStatus `json:"delivery_status" gorm:"type:varchar(16);not null;default:'pending'"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	Contact Contact `json:"-" gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// HasMedia reports whether the message carries an attachment eligible for
// extraction.
func (m *Message) HasMedia() bool {
	return m.MediaURL != nil && *m.MediaURL != ""
}

// Document is one file attached to an enrollment. Its Status is only ever set
// by the cross-validation pass or by an explicit human override.
type Document struct {
	ID           string           `json:"id"            gorm:"type:char(36);primaryKey"`
	EnrollmentID string           `json:"enrollment_id" gorm:"type:char(36);not null;index"`
	MessageID    *string          `json:"message_id,omitempty" gorm:"type:char(36);index"`
	Type         DocumentType     `json:"type"          gorm:"type:varchar(32);not null"`
	MediaURL     string           `json:"media_url"     gorm:"type:text;not null"`
	Status       ValidationStatus `json:"status"        gorm:"type:varchar(16);not null;default:'pending'"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string { return "documents" }

// DocumentField is one extracted field→value row with its confidence and the
// extractor that produced it (flattened document_metadata layout).
type DocumentField struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	DocumentID string    `json:"document_id" gorm:"type:char(36);not null;uniqueIndex:ux_docfield_doc_name,priority:1"`
	Name       string    `json:"name"        gorm:"type:varchar(64);not null;uniqueIndex:ux_docfield_doc_name,priority:2"`
	Value      string    `json:"value"       gorm:"type:text;not null"`
	Confidence float64   `json:"confidence"  gorm:"not null"`
	Source     string    `json:"source"      gorm:"type:varchar(32);not null"`
	CreatedAt  time.Time `json:"created_at"`

	Document Document `json:"-" gorm:"foreignKey:DocumentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DocumentField.
func (DocumentField) TableName() string { return "document_metadata" }

// DocumentValidation is one recorded verdict for a document. Rows are
// append-only: a re-run writes a new row instead of overwriting, so the audit
// trail survives; Document.Status points at the latest verdict.
//
// Matches holds the per-field cross-validation table as JSON:
// [{field, other_document_id, other_type, similarity, matched}].
type DocumentValidation struct {
	ID                string           `json:"id"          gorm:"type:char(36);primaryKey"`
	DocumentID        string           `json:"document_id" gorm:"type:char(36);not null;index"`
	Status            ValidationStatus `json:"status"      gorm:"type:varchar(16);not null"`
	OverallConfidence float64          `json:"overall_confidence" gorm:"not null"`
	MatchRate         float64          `json:"match_rate"  gorm:"not null"`
	Matches           datatypes.JSON   `json:"matches"     gorm:"type:json"`
	CreatedAt         time.Time        `json:"created_at"`

	Document Document `json:"-" gorm:"foreignKey:DocumentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DocumentValidation.
func (DocumentValidation) TableName() string { return "document_validations" }

// QueueJob is one persisted unit of deferred work. Every state transition is
// written here before the in-memory working set moves on, so a crash leaves
// the job recoverable as pending (at-least-once delivery to handlers).
type QueueJob struct {
	ID          string            `json:"id"       gorm:"type:char(36);primaryKey"`
	Type        string            `json:"type"     gorm:"type:varchar(64);not null;index:idx_jobs_type_status,priority:1"`
	Status      JobStatus         `json:"status"   gorm:"type:varchar(16);not null;default:'pending';index:idx_jobs_type_status,priority:2"`
	Payload     datatypes.JSONMap `json:"payload"  gorm:"type:json"`
	Priority    int               `json:"priority" gorm:"not null;default:5"` // lower = more urgent
	Attempts    int               `json:"attempts"     gorm:"not null;default:0"`
	MaxAttempts int               `json:"max_attempts" gorm:"not null;default:3"`
	NextRunAt   time.Time         `json:"next_run_at"  gorm:"index"`
	LastError   string            `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TableName returns the database table name for QueueJob.
func (QueueJob) TableName() string { return "queue_jobs" }

// Terminal reports whether the job can never run again.
func (j *QueueJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
