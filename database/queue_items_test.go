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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
	"github.com/stretchr/testify/assert"
)

func queueItemRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "item_id", "passport_id", "stage_name", "status", "priority", "retry_count", "max_retries", "processing_context", "error_details", "created_at", "updated_at"})
}

func TestRecordQueueItem_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	item := &model.QueueItem{
		ItemID:            "qi_123",
		PassportID:        "pass_123",
		StageName:         model.StageIdentification,
		Status:            model.QueueStatusQueued,
		Priority:          model.DefaultPriority,
		MaxRetries:        3,
		ProcessingContext: map[string]interface{}{"source": "api"},
		CreatedAt:         time.Now(),
	}
	contextJSON, err := json.Marshal(item.ProcessingContext)
	assert.NoError(t, err)

	mock.ExpectQuery("INSERT INTO queue_items").
		WithArgs(item.ItemID, item.PassportID, item.StageName, item.Status, item.Priority, item.RetryCount, item.MaxRetries, contextJSON, item.CreatedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	result, err := ds.RecordQueueItem(context.Background(), item)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), result.ID)
}

func TestClaimNextQueueItem_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	contextJSON, err := json.Marshal(map[string]interface{}{"source": "api"})
	assert.NoError(t, err)

	mock.ExpectQuery("UPDATE queue_items").
		WithArgs(model.StageIdentification).
		WillReturnRows(queueItemRows().
			AddRow(int64(7), "qi_123", "pass_123", model.StageIdentification, model.QueueStatusProcessing, 50, 0, 3, contextJSON, "", time.Now(), time.Now()))

	item, err := ds.ClaimNextQueueItem(context.Background(), model.StageIdentification)
	assert.NoError(t, err)
	assert.NotNil(t, item)
	assert.Equal(t, "qi_123", item.ItemID)
	assert.Equal(t, model.QueueStatusProcessing, item.Status)
}

func TestClaimNextQueueItem_EmptyQueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("UPDATE queue_items").
		WithArgs(model.StageExtraction).
		WillReturnRows(queueItemRows())

	item, err := ds.ClaimNextQueueItem(context.Background(), model.StageExtraction)
	assert.NoError(t, err)
	assert.Nil(t, item)
}

func TestMarkQueueItemProcessing_Conflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	// Item already claimed elsewhere, the CAS matches nothing.
	mock.ExpectExec("UPDATE queue_items SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.MarkQueueItemProcessing(context.Background(), "qi_123")
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
}

func TestMarkQueueItemDone_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE queue_items SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.MarkQueueItemDone(context.Background(), "qi_123")
	assert.NoError(t, err)
}

func TestFailQueueItem_RetriesRemaining(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, .+ FROM queue_items WHERE item_id = .+ FOR UPDATE").
		WithArgs("qi_123").
		WillReturnRows(queueItemRows().
			AddRow(int64(7), "qi_123", "pass_123", model.StageExtraction, model.QueueStatusProcessing, 50, 0, 3, []byte("{}"), "", time.Now(), time.Now()))
	mock.ExpectExec("UPDATE queue_items SET status").
		WithArgs("qi_123", model.QueueStatusRetrying, 1, "ocr timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	item, exhausted, err := ds.FailQueueItem(context.Background(), "qi_123", "ocr timeout")
	assert.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, model.QueueStatusRetrying, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailQueueItem_Exhausted(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, .+ FROM queue_items WHERE item_id = .+ FOR UPDATE").
		WithArgs("qi_123").
		WillReturnRows(queueItemRows().
			AddRow(int64(7), "qi_123", "pass_123", model.StageExtraction, model.QueueStatusProcessing, 50, 2, 3, []byte("{}"), "timeout", time.Now(), time.Now()))
	mock.ExpectExec("UPDATE queue_items SET status").
		WithArgs("qi_123", model.QueueStatusFailed, 3, "ocr timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE passports SET status").
		WithArgs("pass_123", model.StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	item, exhausted, err := ds.FailQueueItem(context.Background(), "qi_123", "ocr timeout")
	assert.NoError(t, err)
	assert.True(t, exhausted)
	assert.Equal(t, model.QueueStatusFailed, item.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailQueueItem_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, .+ FROM queue_items WHERE item_id = .+ FOR UPDATE").
		WithArgs("missing").
		WillReturnRows(queueItemRows())
	mock.ExpectRollback()

	_, _, err = ds.FailQueueItem(context.Background(), "missing", "boom")
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}
