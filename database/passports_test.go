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

package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
	"github.com/stretchr/testify/assert"
)

func TestRecordPassport_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	passport := &model.Passport{
		PassportID:       "pass_123",
		SourceDocumentID: "doc_456",
		DocumentType:     "invoice",
		CurrentPhase:     model.PhaseIntake,
		Status:           model.StatusInProgress,
		QualityMetaData:  map[string]interface{}{"dpi": float64(300)},
		PhaseHistory:     []model.PhaseHistoryEntry{},
		BusinessEvents:   []model.BusinessEvent{},
		CreatedAt:        time.Now(),
	}

	metaDataJSON, err := json.Marshal(passport.QualityMetaData)
	assert.NoError(t, err)
	historyJSON, err := json.Marshal(passport.PhaseHistory)
	assert.NoError(t, err)
	eventsJSON, err := json.Marshal(passport.BusinessEvents)
	assert.NoError(t, err)

	mock.ExpectExec("INSERT INTO passports").
		WithArgs(passport.PassportID, passport.SourceDocumentID, passport.DocumentType, passport.CurrentPhase, passport.Status, passport.ConfidenceScore, metaDataJSON, historyJSON, eventsJSON, passport.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := ds.RecordPassport(context.Background(), passport)
	assert.NoError(t, err)
	assert.Equal(t, passport, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPassport_Failure(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	passport := &model.Passport{
		PassportID:       "pass_123",
		SourceDocumentID: "doc_456",
		CurrentPhase:     model.PhaseIntake,
		Status:           model.StatusInProgress,
		CreatedAt:        time.Now(),
	}

	mock.ExpectExec("INSERT INTO passports").
		WillReturnError(errors.New("db error"))

	_, err = ds.RecordPassport(context.Background(), passport)
	assert.Error(t, err)
	assert.IsType(t, apierror.APIError{}, err)
}

func TestGetPassport_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	history := []model.PhaseHistoryEntry{
		{From: model.PhaseIntake, To: model.PhaseIdentification, Timestamp: time.Now()},
	}
	historyJSON, err := json.Marshal(history)
	assert.NoError(t, err)
	eventsJSON, err := json.Marshal([]model.BusinessEvent{{Type: model.EventCreated, Timestamp: time.Now()}})
	assert.NoError(t, err)
	metaDataJSON, err := json.Marshal(map[string]interface{}{"dpi": 300})
	assert.NoError(t, err)

	rows := sqlmock.NewRows([]string{"passport_id", "source_document_id", "document_type", "current_phase", "status", "linked_supplier_id", "confidence_score", "quality_meta_data", "phase_history", "business_events", "created_at", "updated_at"}).
		AddRow("pass_123", "doc_456", "invoice", model.PhaseIdentification, model.StatusInProgress, "sup_789", 0.92, metaDataJSON, historyJSON, eventsJSON, time.Now(), time.Now())

	mock.ExpectQuery("SELECT passport_id, source_document_id, .+ FROM passports WHERE passport_id =").
		WithArgs("pass_123").
		WillReturnRows(rows)

	passport, err := ds.GetPassport(context.Background(), "pass_123")
	assert.NoError(t, err)
	assert.Equal(t, "pass_123", passport.PassportID)
	assert.Equal(t, model.PhaseIdentification, passport.CurrentPhase)
	assert.Equal(t, "sup_789", passport.LinkedSupplierID)
	assert.Len(t, passport.PhaseHistory, 1)
	assert.Len(t, passport.BusinessEvents, 1)
}

func TestGetPassport_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT passport_id, source_document_id, .+ FROM passports WHERE passport_id =").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"passport_id"}))

	_, err = ds.GetPassport(context.Background(), "missing")
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestAppendPhaseHistory_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	entry := model.PhaseHistoryEntry{
		From:      model.PhaseIntake,
		To:        model.PhaseIdentification,
		Timestamp: time.Now(),
	}
	entryJSON, err := json.Marshal(entry)
	assert.NoError(t, err)

	mock.ExpectExec("UPDATE passports").
		WithArgs("pass_123", entry.To, entryJSON, model.PhaseIntake).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.AppendPhaseHistory(context.Background(), "pass_123", model.PhaseIntake, entry)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendPhaseHistory_PhaseMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	entry := model.PhaseHistoryEntry{
		From:      model.PhaseIntake,
		To:        model.PhaseIdentification,
		Timestamp: time.Now(),
	}

	// CAS misses because the passport already moved on.
	mock.ExpectExec("UPDATE passports").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("pass_123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err = ds.AppendPhaseHistory(context.Background(), "pass_123", model.PhaseIntake, entry)
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrPhaseMismatch))
}

func TestAppendPhaseHistory_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	entry := model.PhaseHistoryEntry{From: model.PhaseIntake, To: model.PhaseIdentification, Timestamp: time.Now()}

	mock.ExpectExec("UPDATE passports").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err = ds.AppendPhaseHistory(context.Background(), "missing", model.PhaseIntake, entry)
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestAppendBusinessEvent_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	event := model.BusinessEvent{
		Type:      model.EventSupplierIdentified,
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"supplier_id": "sup_789"},
	}
	eventJSON, err := json.Marshal(event)
	assert.NoError(t, err)

	mock.ExpectExec("UPDATE passports SET business_events").
		WithArgs("pass_123", eventJSON).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.AppendBusinessEvent(context.Background(), "pass_123", event)
	assert.NoError(t, err)
}

func TestUpdatePassportConfidence_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	factors := map[string]float64{"name_exact": 0.40, "code": 0.30}
	factorsJSON, err := json.Marshal(factors)
	assert.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE passports SET confidence_score").
		WithArgs("pass_123", 0.70).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO passport_confidence").
		WithArgs("pass_123", factorsJSON).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = ds.UpdatePassportConfidence(context.Background(), "pass_123", 0.70, factors)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkSupplier_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE passports SET linked_supplier_id").
		WithArgs("missing", "sup_789").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.LinkSupplier(context.Background(), "missing", "sup_789")
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestGetPassportStats_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"total", "completed", "in_progress", "failed", "avg"}).
			AddRow(10, 6, 3, 1, 0.87))
	mock.ExpectQuery("SELECT stage_name, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"stage_name", "count"}).
			AddRow(model.StageIdentification, 2).
			AddRow(model.StageExtraction, 1))

	stats, err := ds.GetPassportStats(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(6), stats.Completed)
	assert.Equal(t, 0.87, stats.AverageConfidence)
	assert.Equal(t, int64(2), stats.QueueDepths[model.StageIdentification])
}
