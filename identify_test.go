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
	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
	"github.com/stretchr/testify/assert"
)

func supplierRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"supplier_id", "name", "code", "email", "phone", "enabled", "meta_data", "created_at"})
}

func expectConfidenceUpdate(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE passports SET confidence_score").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO passport_confidence").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

// Text carrying a candidate's exact name, code, and email scores past the
// threshold, links the supplier, and advances the passport to extraction.
func TestIdentify_HighConfidenceLinksSupplier(t *testing.T) {
	d, mock := newTestDocbridge(t)

	signals := model.ExtractedSignals{
		Text: "Invoice from Acme Industrial Supplies ref ACME-001 contact billing@acme.example",
	}

	mock.ExpectQuery("SELECT passport_id, source_document_id").
		WithArgs("pass_1").
		WillReturnRows(passportRow("pass_1", model.PhaseIdentification, model.StatusInProgress))
	mock.ExpectQuery("SELECT supplier_id, name, code").
		WillReturnRows(supplierRows().
			AddRow("sup_acme", "Acme Industrial Supplies", "ACME-001", "billing@acme.example", "", true, []byte("{}"), time.Now()).
			AddRow("sup_other", "Nordwind Logistics", "NORD-77", "", "", true, []byte("{}"), time.Now()))
	expectConfidenceUpdate(mock)
	mock.ExpectExec("UPDATE passports SET linked_supplier_id").
		WithArgs("pass_1", "sup_acme").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE passports SET business_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// identification -> extraction transition
	mock.ExpectExec("UPDATE passports").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE passports SET business_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT passport_id, source_document_id").
		WillReturnRows(passportRow("pass_1", model.PhaseExtraction, model.StatusInProgress))
	mock.ExpectQuery("INSERT INTO queue_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	result, err := d.Identify(context.Background(), "pass_1", signals)
	assert.NoError(t, err)
	assert.True(t, result.Identified)
	assert.GreaterOrEqual(t, result.BestScore, result.Threshold)
	assert.Equal(t, model.PhaseExtraction, result.Passport.CurrentPhase)
	assert.Len(t, result.Scores, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Text matching nothing routes the passport to manual review with
// status exception and zero confidence.
func TestIdentify_NoMatchRoutesToManualReview(t *testing.T) {
	d, mock := newTestDocbridge(t)

	signals := model.ExtractedSignals{Text: "handwritten receipt with no letterhead"}

	mock.ExpectQuery("SELECT passport_id, source_document_id").
		WithArgs("pass_1").
		WillReturnRows(passportRow("pass_1", model.PhaseIdentification, model.StatusInProgress))
	mock.ExpectQuery("SELECT supplier_id, name, code").
		WillReturnRows(supplierRows().
			AddRow("sup_acme", "Acme Industrial Supplies", "ACME-001", "billing@acme.example", "", true, []byte("{}"), time.Now()))
	expectConfidenceUpdate(mock)
	// identification -> manual_review transition
	mock.ExpectExec("UPDATE passports").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE passports SET business_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT passport_id, source_document_id").
		WillReturnRows(passportRow("pass_1", model.PhaseManualReview, model.StatusInProgress))
	mock.ExpectExec("UPDATE passports SET status").
		WithArgs("pass_1", model.StatusException).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE passports SET business_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := d.Identify(context.Background(), "pass_1", signals)
	assert.NoError(t, err)
	assert.False(t, result.Identified)
	assert.Equal(t, 0.0, result.BestScore)
	assert.Equal(t, model.PhaseManualReview, result.Passport.CurrentPhase)
	assert.Equal(t, model.StatusException, result.Passport.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentify_EmptySignalsRejected(t *testing.T) {
	d, _ := newTestDocbridge(t)

	_, err := d.Identify(context.Background(), "pass_1", model.ExtractedSignals{})
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidInput))
}

func TestIdentify_TerminalPassportRejected(t *testing.T) {
	d, mock := newTestDocbridge(t)

	mock.ExpectQuery("SELECT passport_id, source_document_id").
		WithArgs("pass_1").
		WillReturnRows(passportRow("pass_1", model.PhaseCompleted, model.StatusCompleted))

	_, err := d.Identify(context.Background(), "pass_1", model.ExtractedSignals{Text: "anything"})
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidTransition))
}

func TestIdentify_UnknownPassport(t *testing.T) {
	d, mock := newTestDocbridge(t)

	mock.ExpectQuery("SELECT passport_id, source_document_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"passport_id"}))

	_, err := d.Identify(context.Background(), "missing", model.ExtractedSignals{Text: "anything"})
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}
