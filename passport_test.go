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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
	"github.com/stretchr/testify/assert"
)

func TestCreatePassport_Success(t *testing.T) {
	d, mock := newTestDocbridge(t)

	doc := &model.CaptureDocument{
		DocumentID:        gofakeit.UUID(),
		DocumentType:      "invoice",
		ExtractedSignals:  model.ExtractedSignals{Text: gofakeit.Sentence(12)},
		CaptureConfidence: 0.95,
	}

	mock.ExpectExec("INSERT INTO passports").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE passports SET business_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO queue_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	passport, err := d.CreatePassport(context.Background(), doc)
	assert.NoError(t, err)
	assert.Contains(t, passport.PassportID, "pass_")
	assert.Equal(t, model.PhaseIntake, passport.CurrentPhase)
	assert.Equal(t, model.StatusInProgress, passport.Status)
	assert.Equal(t, 0.0, passport.ConfidenceScore)
	assert.WithinDuration(t, time.Now(), passport.CreatedAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// File quality arrives from capture as a plain label and lands in the
// quality metadata next to the capture confidence.
func TestCreatePassport_CarriesFileQuality(t *testing.T) {
	d, mock := newTestDocbridge(t)

	doc := &model.CaptureDocument{
		DocumentID:        gofakeit.UUID(),
		ExtractedSignals:  model.ExtractedSignals{Text: gofakeit.Sentence(8)},
		CaptureConfidence: 0.9,
		FileQuality:       "high",
	}

	mock.ExpectExec("INSERT INTO passports").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE passports SET business_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO queue_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	passport, err := d.CreatePassport(context.Background(), doc)
	assert.NoError(t, err)
	assert.Equal(t, "high", passport.QualityMetaData["file_quality"])
	assert.Equal(t, 0.9, passport.QualityMetaData["capture_confidence"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePassport_MissingDocumentID(t *testing.T) {
	d, mock := newTestDocbridge(t)

	_, err := d.CreatePassport(context.Background(), &model.CaptureDocument{
		ExtractedSignals: model.ExtractedSignals{Text: "some text"},
	})
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePassport_MissingSignals(t *testing.T) {
	d, _ := newTestDocbridge(t)

	_, err := d.CreatePassport(context.Background(), &model.CaptureDocument{DocumentID: "doc_1"})
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidInput))
}

func TestCreatePassport_DuplicateDocument(t *testing.T) {
	d, mock := newTestDocbridge(t)

	mock.ExpectExec("INSERT INTO passports").
		WillReturnError(&duplicateKeyError{})

	_, err := d.CreatePassport(context.Background(), &model.CaptureDocument{
		DocumentID:       "doc_1",
		ExtractedSignals: model.ExtractedSignals{Text: "some text"},
	})
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
}

type duplicateKeyError struct{}

func (e *duplicateKeyError) Error() string    { return "duplicate key value violates unique constraint" }
func (e *duplicateKeyError) SQLState() string { return "23505" }

func TestAbandonPassport_NonTerminal(t *testing.T) {
	d, mock := newTestDocbridge(t)

	mock.ExpectQuery("SELECT passport_id, source_document_id").
		WithArgs("pass_1").
		WillReturnRows(passportRow("pass_1", model.PhaseProcessing, model.StatusInProgress))
	// processing -> failed transition
	mock.ExpectExec("UPDATE passports").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE passports SET business_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE passports SET status").
		WithArgs("pass_1", model.StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT passport_id, source_document_id").
		WillReturnRows(passportRow("pass_1", model.PhaseFailed, model.StatusFailed))

	passport, err := d.AbandonPassport(context.Background(), "pass_1", "operator request")
	assert.NoError(t, err)
	assert.Equal(t, model.PhaseFailed, passport.CurrentPhase)
	assert.Equal(t, model.StatusFailed, passport.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAbandonPassport_AlreadyTerminalIsNoOp(t *testing.T) {
	d, mock := newTestDocbridge(t)

	mock.ExpectQuery("SELECT passport_id, source_document_id").
		WithArgs("pass_1").
		WillReturnRows(passportRow("pass_1", model.PhaseCompleted, model.StatusCompleted))

	passport, err := d.AbandonPassport(context.Background(), "pass_1", "operator request")
	assert.NoError(t, err)
	assert.Equal(t, model.PhaseCompleted, passport.CurrentPhase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStatus_AssemblesView(t *testing.T) {
	d, mock := newTestDocbridge(t)

	mock.ExpectQuery("SELECT passport_id, source_document_id").
		WithArgs("pass_1").
		WillReturnRows(passportRow("pass_1", model.PhaseManualReview, model.StatusException))
	mock.ExpectQuery("SELECT factors, updated_at FROM passport_confidence").
		WithArgs("pass_1").
		WillReturnRows(sqlmock.NewRows([]string{"factors", "updated_at"}).
			AddRow([]byte(`{"code":0.3}`), time.Now()))
	mock.ExpectQuery("SELECT id, .+ FROM queue_items WHERE passport_id").
		WillReturnRows(queueItemTestRows())

	status, err := d.GetStatus(context.Background(), "pass_1")
	assert.NoError(t, err)
	assert.Equal(t, model.PhaseManualReview, status.Passport.CurrentPhase)
	assert.Equal(t, 0.3, status.ConfidenceBreakdown["code"])
	assert.NotEmpty(t, status.NextActions)
	assert.Equal(t, 0, status.EstimatedRemainingMins)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Stats carry both the durable per-stage row counts and the live dispatch
// backlog sitting in Redis.
func TestGetStats_IncludesDispatchBacklog(t *testing.T) {
	d, mock := newTestDocbridge(t)

	mock.ExpectQuery("INSERT INTO queue_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	_, err := d.EnqueueStage(context.Background(), "pass_1", model.StageIdentification, nil, model.DefaultPriority)
	assert.NoError(t, err)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"total", "completed", "in_progress", "failed", "avg"}).
			AddRow(4, 1, 2, 1, 0.91))
	mock.ExpectQuery("SELECT stage_name, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"stage_name", "count"}).
			AddRow(model.StageIdentification, 1))

	stats, err := d.GetStats(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stats.QueueDepths[model.StageIdentification])
	assert.EqualValues(t, 1, stats.DispatchDepths[model.StageIdentification])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStatus_UnknownPassport(t *testing.T) {
	d, mock := newTestDocbridge(t)

	mock.ExpectQuery("SELECT passport_id, source_document_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"passport_id"}))

	_, err := d.GetStatus(context.Background(), "missing")
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}
