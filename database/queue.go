package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
	"github.com/lib/pq"
)

const queueItemColumns = `item_id, passport_id, stage_name, status, priority, retry_count, max_retries, processing_context, COALESCE(error_details, ''), created_at, updated_at`

// RecordQueueItem inserts a new work item. The partial unique index on
// active items turns a duplicate enqueue for the same passport and stage
// into ErrConflict.
func (d Datasource) RecordQueueItem(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	contextJSON, err := json.Marshal(item.ProcessingContext)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to marshal processing context", err)
	}
	err = d.Conn.QueryRowContext(ctx,
		`INSERT INTO queue_items (item_id, passport_id, stage_name, status, priority, retry_count, max_retries, processing_context, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		item.ItemID, item.PassportID, item.StageName, item.Status, item.Priority,
		item.RetryCount, item.MaxRetries, contextJSON, item.CreatedAt,
	).Scan(&item.ID)
	if err != nil {
		pqErr, ok := err.(interface{ SQLState() string })
		if ok && pqErr.SQLState() == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Passport %s already has an active %s item", item.PassportID, item.StageName), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to record queue item", err)
	}
	return item, nil
}

func (d Datasource) GetQueueItem(ctx context.Context, itemID string) (*model.QueueItem, error) {
	row := d.Conn.QueryRowContext(ctx,
		`SELECT id, `+queueItemColumns+` FROM queue_items WHERE item_id = $1`,
		itemID,
	)
	item, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Queue item with ID '%s' not found", itemID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to retrieve queue item", err)
	}
	return item, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner) (*model.QueueItem, error) {
	item := model.QueueItem{}
	var contextJSON []byte
	err := row.Scan(
		&item.ID, &item.ItemID, &item.PassportID, &item.StageName, &item.Status,
		&item.Priority, &item.RetryCount, &item.MaxRetries, &contextJSON,
		&item.ErrorDetails, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &item.ProcessingContext); err != nil {
			return nil, err
		}
	}
	return &item, nil
}

// GetQueueItemsForPassport returns the most recent items for a passport.
func (d Datasource) GetQueueItemsForPassport(ctx context.Context, passportID string, limit int) ([]model.QueueItem, error) {
	rows, err := d.Conn.QueryContext(ctx,
		`SELECT id, `+queueItemColumns+` FROM queue_items WHERE passport_id = $1 ORDER BY created_at DESC LIMIT $2`,
		passportID, limit,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to list queue items", err)
	}
	defer rows.Close()

	items := []model.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to scan queue item", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "error iterating queue items", err)
	}
	return items, nil
}

// ClaimNextQueueItem atomically claims the highest-priority queued item for
// a stage, flipping it to processing. SKIP LOCKED keeps competing workers
// from blocking on the same row; each claim lands on a distinct item.
// Returns nil when the stage queue is empty.
func (d Datasource) ClaimNextQueueItem(ctx context.Context, stageName string) (*model.QueueItem, error) {
	row := d.Conn.QueryRowContext(ctx,
		`UPDATE queue_items
		 SET status = 'processing', updated_at = NOW()
		 WHERE id = (
		 	SELECT id FROM queue_items
		 	WHERE stage_name = $1 AND status = 'queued'
		 	ORDER BY priority DESC, created_at ASC
		 	LIMIT 1
		 	FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, `+queueItemColumns,
		stageName,
	)
	item, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to claim queue item", err)
	}
	return item, nil
}

// MarkQueueItemProcessing claims a specific item by id. Only a queued item
// can be claimed; anything else means another worker got there first.
func (d Datasource) MarkQueueItemProcessing(ctx context.Context, itemID string) error {
	return d.compareAndSwapStatus(ctx, itemID, []string{model.QueueStatusQueued}, model.QueueStatusProcessing)
}

// RequeueQueueItem resets a retrying item back to queued so it becomes
// claimable again after its backoff delay.
func (d Datasource) RequeueQueueItem(ctx context.Context, itemID string) error {
	return d.compareAndSwapStatus(ctx, itemID, []string{model.QueueStatusRetrying}, model.QueueStatusQueued)
}

func (d Datasource) MarkQueueItemDone(ctx context.Context, itemID string) error {
	return d.compareAndSwapStatus(ctx, itemID, []string{model.QueueStatusProcessing}, model.QueueStatusDone)
}

func (d Datasource) compareAndSwapStatus(ctx context.Context, itemID string, from []string, to string) error {
	result, err := d.Conn.ExecContext(ctx,
		`UPDATE queue_items SET status = $2, updated_at = NOW() WHERE item_id = $1 AND status = ANY($3)`,
		itemID, to, pq.Array(from),
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to update queue item status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to read rows affected", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Queue item %s is not in an eligible status for %s", itemID, to), nil)
	}
	return nil
}

// FailQueueItem records a processing failure. When retries remain the item
// moves to retrying with an incremented count and the updated item is
// returned with exhausted=false. When the retry budget is spent the item
// and its owning passport are both marked failed inside one transaction so
// a crash can never strand a failed item on a live passport.
func (d Datasource) FailQueueItem(ctx context.Context, itemID string, errDetails string) (*model.QueueItem, bool, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT id, `+queueItemColumns+` FROM queue_items WHERE item_id = $1 FOR UPDATE`,
		itemID,
	)
	item, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Queue item with ID '%s' not found", itemID), err)
		}
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "failed to lock queue item", err)
	}

	item.RetryCount++
	item.ErrorDetails = errDetails
	exhausted := item.RetriesExhausted()
	if exhausted {
		item.Status = model.QueueStatusFailed
	} else {
		item.Status = model.QueueStatusRetrying
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE queue_items SET status = $2, retry_count = $3, error_details = $4, updated_at = NOW() WHERE item_id = $1`,
		itemID, item.Status, item.RetryCount, errDetails,
	)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "failed to update failed queue item", err)
	}

	if exhausted {
		_, err = tx.ExecContext(ctx,
			`UPDATE passports SET status = $2, updated_at = NOW() WHERE passport_id = $1`,
			item.PassportID, model.StatusFailed,
		)
		if err != nil {
			return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "failed to fail owning passport", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "failed to commit queue item failure", err)
	}
	return item, exhausted, nil
}

// GetStuckQueueItems returns in-flight items that have not been touched for
// at least the given threshold. Processing items belong to workers that died
// after claiming; retrying items this old lost their scheduled re-dispatch
// (the backoff cap is well under any usable threshold). The recovery
// processor pushes both back through the retry policy.
func (d Datasource) GetStuckQueueItems(ctx context.Context, threshold time.Duration, limit int) ([]*model.QueueItem, error) {
	rows, err := d.Conn.QueryContext(ctx,
		`SELECT id, `+queueItemColumns+` FROM queue_items
		 WHERE status IN ('processing', 'retrying') AND updated_at < NOW() - $1::interval
		 ORDER BY updated_at ASC
		 LIMIT $2`,
		fmt.Sprintf("%d seconds", int(threshold.Seconds())), limit,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to list stuck queue items", err)
	}
	defer rows.Close()

	items := []*model.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to scan stuck queue item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "error iterating stuck queue items", err)
	}
	return items, nil
}

// CountQueueDepths returns the number of live items per stage.
func (d Datasource) CountQueueDepths(ctx context.Context) (map[string]int64, error) {
	rows, err := d.Conn.QueryContext(ctx,
		`SELECT stage_name, COUNT(*) FROM queue_items
		 WHERE status IN ('queued', 'processing', 'retrying')
		 GROUP BY stage_name`,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to count queue depths", err)
	}
	defer rows.Close()

	depths := map[string]int64{}
	for rows.Next() {
		var stage string
		var count int64
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to scan queue depth", err)
		}
		depths[stage] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "error iterating queue depths", err)
	}
	return depths, nil
}
