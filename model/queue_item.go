package model

import (
	"encoding/json"
	"time"
)

// Queue item statuses. An item moves queued → processing → done, or through
// retrying/failed on the failure path. Items are never deleted; retention is
// an external job.
const (
	QueueStatusQueued     = "queued"
	QueueStatusProcessing = "processing"
	QueueStatusRetrying   = "retrying"
	QueueStatusFailed     = "failed"
	QueueStatusDone       = "done"
)

// Stage names dispatched through the processing queue.
const (
	StageIdentification = "identification"
	StageExtraction     = "extraction"
	StageProcessing     = "processing"
	StageIntegration    = "integration"
)

// Stages lists every stage a worker consumes, in pipeline order.
var Stages = []string{StageIdentification, StageExtraction, StageProcessing, StageIntegration}

// DefaultPriority is assigned when the caller does not specify one.
const DefaultPriority = 50

// QueueItem is one (passport, stage) attempt. At most one item is active per
// pair; a retry produces a status reset, not a new row, so retry_count never
// exceeds max_retries.
type QueueItem struct {
	ID                int64                  `json:"-"`
	ItemID            string                 `json:"item_id"`
	PassportID        string                 `json:"passport_id"`
	StageName         string                 `json:"stage_name"`
	Status            string                 `json:"status"`
	Priority          int                    `json:"priority"`
	RetryCount        int                    `json:"retry_count"`
	MaxRetries        int                    `json:"max_retries"`
	ProcessingContext map[string]interface{} `json:"processing_context,omitempty"`
	ErrorDetails      string                 `json:"error_details,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

func (q *QueueItem) ToJSON() ([]byte, error) {
	return json.Marshal(q)
}

// RetriesExhausted reports whether another failure must take the owning
// passport down with the item.
func (q *QueueItem) RetriesExhausted() bool {
	return q.RetryCount >= q.MaxRetries
}
