/*
Copyright 2024 Docbridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package docbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/docbridge/docbridge/config"
	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("docbridge.pipeline")
)

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// CreatePassport registers an inbound capture document and schedules it for
// supplier identification. The passport starts in intake with zero
// confidence; a created event and the identification queue item are written
// before the passport is returned.
func (d *Docbridge) CreatePassport(ctx context.Context, doc *model.CaptureDocument) (*model.Passport, error) {
	ctx, span := tracer.Start(ctx, "Creating Passport")
	defer span.End()

	if doc.DocumentID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "document_id is required", nil)
	}
	if doc.ExtractedSignals.IsEmpty() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "extracted_signals is required", nil)
	}

	capturedAt := doc.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	passport := &model.Passport{
		PassportID:       model.GenerateUUIDWithSuffix("pass"),
		SourceDocumentID: doc.DocumentID,
		DocumentType:     doc.DocumentType,
		CurrentPhase:     model.PhaseIntake,
		Status:           model.StatusInProgress,
		ConfidenceScore:  0,
		QualityMetaData:  qualityMetaData(doc),
		PhaseHistory:     []model.PhaseHistoryEntry{},
		BusinessEvents:   []model.BusinessEvent{},
		CreatedAt:        capturedAt,
	}

	passport, err := d.datasource.RecordPassport(ctx, passport)
	if err != nil {
		return nil, logAndRecordError(span, "failed to record passport: ", err)
	}

	event := model.BusinessEvent{
		Type:      model.EventCreated,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source_document_id": doc.DocumentID,
			"document_type":      doc.DocumentType,
		},
	}
	if err := d.datasource.AppendBusinessEvent(ctx, passport.PassportID, event); err != nil {
		return nil, logAndRecordError(span, "failed to log created event: ", err)
	}
	if err := SendWebhook(event, passport.PassportID); err != nil {
		_ = logAndRecordError(span, "failed to queue webhook: ", err)
	}

	if _, err := d.EnqueueStage(ctx, passport.PassportID, model.StageIdentification, map[string]interface{}{
		"signals": doc.ExtractedSignals,
	}, model.DefaultPriority); err != nil {
		return nil, logAndRecordError(span, "failed to enqueue identification: ", err)
	}

	return passport, nil
}

func qualityMetaData(doc *model.CaptureDocument) map[string]interface{} {
	meta := map[string]interface{}{}
	if doc.CaptureConfidence > 0 {
		meta["capture_confidence"] = doc.CaptureConfidence
	}
	if doc.FileQuality != "" {
		meta["file_quality"] = doc.FileQuality
	}
	return meta
}

// GetPassport retrieves a passport by ID.
func (d *Docbridge) GetPassport(ctx context.Context, passportID string) (*model.Passport, error) {
	ctx, span := tracer.Start(ctx, "Getting Passport")
	defer span.End()
	return d.datasource.GetPassport(ctx, passportID)
}

// AbandonPassport drives a passport to failed from any non-terminal phase.
// Abandoning an already terminal passport is a no-op, which makes the call
// idempotent for operators retrying it.
func (d *Docbridge) AbandonPassport(ctx context.Context, passportID string, reason string) (*model.Passport, error) {
	ctx, span := tracer.Start(ctx, "Abandoning Passport")
	defer span.End()

	passport, err := d.datasource.GetPassport(ctx, passportID)
	if err != nil {
		return nil, err
	}
	if passport.Terminal() {
		return passport, nil
	}

	passport, err = d.Transition(ctx, passportID, passport.CurrentPhase, model.PhaseFailed, map[string]interface{}{
		"reason": reason,
	})
	if err != nil {
		if apierror.HasCode(err, apierror.ErrPhaseMismatch) {
			// Lost the race to another writer, re-read and report what won.
			return d.datasource.GetPassport(ctx, passportID)
		}
		return nil, logAndRecordError(span, fmt.Sprintf("failed to abandon passport %s: ", passportID), err)
	}
	return passport, nil
}

// GetPassportSummaries lists passports for dashboard consumers.
func (d *Docbridge) GetPassportSummaries(ctx context.Context, limit, offset int) ([]model.PassportSummary, error) {
	ctx, span := tracer.Start(ctx, "Listing Passports")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return d.datasource.GetPassportSummaries(ctx, limit, offset)
}

// GetStats aggregates pipeline counters, the durable per-stage queue depths
// and the live asynq dispatch backlog.
func (d *Docbridge) GetStats(ctx context.Context) (*model.PassportStats, error) {
	ctx, span := tracer.Start(ctx, "Aggregating Pipeline Stats")
	defer span.End()

	stats, err := d.datasource.GetPassportStats(ctx)
	if err != nil {
		return nil, err
	}
	if cfg, err := config.Fetch(); err == nil {
		stats.DispatchDepths = d.queue.DispatchDepths(cfg)
	}
	return stats, nil
}
