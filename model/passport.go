package model

import (
	"encoding/json"
	"time"
)

// Phase names for the passport lifecycle. The legal edges between them are
// owned by the state machine in the root package.
const (
	PhaseIntake         = "intake"
	PhaseIdentification = "identification"
	PhaseExtraction     = "extraction"
	PhaseProcessing     = "processing"
	PhaseIntegration    = "integration"
	PhaseManualReview   = "manual_review"
	PhaseCompleted      = "completed"
	PhaseFailed         = "failed"
)

// Passport statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusException  = "exception"
)

// Business event types recorded against a passport.
const (
	EventCreated              = "created"
	EventSupplierIdentified   = "supplier_identified"
	EventManualReviewRequired = "manual_review_required"
	EventPhaseTransition      = "phase_transition"
	EventProcessingError      = "processing_error"
	EventManualFeedback       = "manual_feedback"
)

// Passport is the durable tracking record for one inbound document. It is
// created once per document and mutated only through the state machine and
// the confidence update path; once completed or failed it is immutable.
type Passport struct {
	ID               int64                  `json:"-"`
	PassportID       string                 `json:"passport_id"`
	SourceDocumentID string                 `json:"source_document_id"`
	DocumentType     string                 `json:"document_type"`
	CurrentPhase     string                 `json:"current_phase"`
	Status           string                 `json:"status"`
	LinkedSupplierID string                 `json:"linked_supplier_id,omitempty"`
	ConfidenceScore  float64                `json:"confidence_score"`
	QualityMetaData  map[string]interface{} `json:"quality_meta_data,omitempty"`
	PhaseHistory     []PhaseHistoryEntry    `json:"phase_history"`
	BusinessEvents   []BusinessEvent        `json:"business_events"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// PhaseHistoryEntry is one hop of the passport through the lifecycle graph.
// The history only grows; CurrentPhase always equals the last entry's To.
type PhaseHistoryEntry struct {
	From      string                 `json:"from"`
	To        string                 `json:"to"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// BusinessEvent is an immutable audit entry for a domain-significant
// occurrence. Events are only ever appended.
type BusinessEvent struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ConfidenceBreakdown is the per-passport record of individual signal
// scores, 1:1 with the passport and updated incrementally per stage.
type ConfidenceBreakdown struct {
	PassportID string             `json:"passport_id"`
	Factors    map[string]float64 `json:"factors"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// PassportSummary is the flattened view consumed by collaborators.
type PassportSummary struct {
	PassportID         string    `json:"passport_id"`
	DocumentType       string    `json:"document_type"`
	CurrentPhase       string    `json:"current_phase"`
	Status             string    `json:"status"`
	ConfidenceScore    float64   `json:"confidence_score"`
	LinkedSupplierName string    `json:"linked_supplier_name,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// PassportStats aggregates pipeline counters for the stats endpoint.
type PassportStats struct {
	Total             int64            `json:"total"`
	Completed         int64            `json:"completed"`
	InProgress        int64            `json:"in_progress"`
	Failed            int64            `json:"failed"`
	AverageConfidence float64          `json:"average_confidence"`
	QueueDepths       map[string]int64 `json:"queue_depths"`
	DispatchDepths    map[string]int64 `json:"dispatch_depths,omitempty"`
}

// CaptureDocument is the upstream input handed over by the capture
// collaborator. DocumentID and ExtractedSignals are the required fields.
type CaptureDocument struct {
	DocumentID        string                 `json:"document_id"`
	ExtractedSignals  ExtractedSignals       `json:"extracted_signals"`
	DocumentType      string                 `json:"document_type,omitempty"`
	CaptureConfidence float64                `json:"capture_confidence,omitempty"`
	FileQuality       string                 `json:"file_quality,omitempty"`
	CapturedAt        time.Time              `json:"captured_at,omitempty"`
}

// ExtractedSignals carries the free text produced by the capture step plus
// optional structured hints pulled out of it.
type ExtractedSignals struct {
	Text  string            `json:"text"`
	Hints map[string]string `json:"hints,omitempty"`
}

// IsEmpty reports whether no usable signal was captured at all.
func (s ExtractedSignals) IsEmpty() bool {
	return s.Text == "" && len(s.Hints) == 0
}

func (p *Passport) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// Terminal reports whether the passport can no longer be mutated.
func (p *Passport) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}
