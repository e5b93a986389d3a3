package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
)

// RecordPassport inserts a new passport row. The phase history and business
// events arrays start from whatever the caller seeded (normally empty).
func (d Datasource) RecordPassport(ctx context.Context, passport *model.Passport) (*model.Passport, error) {
	metaDataJSON, err := json.Marshal(passport.QualityMetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to marshal quality metadata", err)
	}
	historyJSON, err := json.Marshal(passport.PhaseHistory)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to marshal phase history", err)
	}
	eventsJSON, err := json.Marshal(passport.BusinessEvents)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to marshal business events", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO passports (passport_id, source_document_id, document_type, current_phase, status, confidence_score, quality_meta_data, phase_history, business_events, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		passport.PassportID, passport.SourceDocumentID, passport.DocumentType, passport.CurrentPhase,
		passport.Status, passport.ConfidenceScore, metaDataJSON, historyJSON, eventsJSON, passport.CreatedAt,
	)
	if err != nil {
		pqErr, ok := err.(interface{ SQLState() string })
		if ok && pqErr.SQLState() == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Passport for document %s already exists", passport.SourceDocumentID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to record passport", err)
	}
	return passport, nil
}

// GetPassport retrieves a passport by its public id.
func (d Datasource) GetPassport(ctx context.Context, passportID string) (*model.Passport, error) {
	row := d.Conn.QueryRowContext(ctx,
		`SELECT passport_id, source_document_id, document_type, current_phase, status, COALESCE(linked_supplier_id, ''), confidence_score, quality_meta_data, phase_history, business_events, created_at, updated_at
		 FROM passports WHERE passport_id = $1`,
		passportID,
	)
	return scanPassport(row, passportID)
}

func scanPassport(row *sql.Row, passportID string) (*model.Passport, error) {
	passport := model.Passport{}
	var metaDataJSON, historyJSON, eventsJSON []byte
	err := row.Scan(
		&passport.PassportID, &passport.SourceDocumentID, &passport.DocumentType,
		&passport.CurrentPhase, &passport.Status, &passport.LinkedSupplierID,
		&passport.ConfidenceScore, &metaDataJSON, &historyJSON, &eventsJSON,
		&passport.CreatedAt, &passport.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Passport with ID '%s' not found", passportID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to retrieve passport", err)
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &passport.QualityMetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to unmarshal quality metadata", err)
		}
	}
	if err := json.Unmarshal(historyJSON, &passport.PhaseHistory); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to unmarshal phase history", err)
	}
	if err := json.Unmarshal(eventsJSON, &passport.BusinessEvents); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to unmarshal business events", err)
	}
	return &passport, nil
}

// AppendPhaseHistory advances current_phase and appends the history entry in
// a single statement. The WHERE clause on the expected current phase makes
// the update a compare-and-swap: a stale caller matches zero rows and gets
// ErrPhaseMismatch instead of silently clobbering a concurrent transition.
func (d Datasource) AppendPhaseHistory(ctx context.Context, passportID string, fromPhase string, entry model.PhaseHistoryEntry) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to marshal phase history entry", err)
	}
	result, err := d.Conn.ExecContext(ctx,
		`UPDATE passports
		 SET current_phase = $2, phase_history = phase_history || $3::jsonb, updated_at = NOW()
		 WHERE passport_id = $1 AND current_phase = $4`,
		passportID, entry.To, entryJSON, fromPhase,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to append phase history", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to read rows affected", err)
	}
	if rows == 0 {
		var exists bool
		if err := d.Conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM passports WHERE passport_id = $1)`, passportID).Scan(&exists); err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "failed to check passport existence", err)
		}
		if !exists {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Passport with ID '%s' not found", passportID), nil)
		}
		return apierror.NewAPIError(apierror.ErrPhaseMismatch, fmt.Sprintf("Passport %s is no longer in phase %s", passportID, fromPhase), nil)
	}
	return nil
}

// AppendBusinessEvent appends one event to the passport's business event log.
func (d Datasource) AppendBusinessEvent(ctx context.Context, passportID string, event model.BusinessEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to marshal business event", err)
	}
	result, err := d.Conn.ExecContext(ctx,
		`UPDATE passports SET business_events = business_events || $2::jsonb, updated_at = NOW() WHERE passport_id = $1`,
		passportID, eventJSON,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to append business event", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to read rows affected", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Passport with ID '%s' not found", passportID), nil)
	}
	return nil
}

// UpdatePassportConfidence sets the aggregate score on the passport row and
// merges the per-factor breakdown into the 1:1 confidence table.
func (d Datasource) UpdatePassportConfidence(ctx context.Context, passportID string, score float64, factors map[string]float64) error {
	factorsJSON, err := json.Marshal(factors)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to marshal confidence factors", err)
	}
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE passports SET confidence_score = $2, updated_at = NOW() WHERE passport_id = $1`,
		passportID, score,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to update confidence score", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to read rows affected", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Passport with ID '%s' not found", passportID), nil)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO passport_confidence (passport_id, factors, updated_at)
		 VALUES ($1, $2::jsonb, NOW())
		 ON CONFLICT (passport_id) DO UPDATE
		 SET factors = passport_confidence.factors || EXCLUDED.factors, updated_at = NOW()`,
		passportID, factorsJSON,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to upsert confidence breakdown", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to commit confidence update", err)
	}
	return nil
}

func (d Datasource) GetConfidenceBreakdown(ctx context.Context, passportID string) (*model.ConfidenceBreakdown, error) {
	breakdown := model.ConfidenceBreakdown{PassportID: passportID}
	var factorsJSON []byte
	err := d.Conn.QueryRowContext(ctx,
		`SELECT factors, updated_at FROM passport_confidence WHERE passport_id = $1`,
		passportID,
	).Scan(&factorsJSON, &breakdown.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No confidence breakdown for passport '%s'", passportID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to retrieve confidence breakdown", err)
	}
	if err := json.Unmarshal(factorsJSON, &breakdown.Factors); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to unmarshal confidence factors", err)
	}
	return &breakdown, nil
}

// LinkSupplier records the identified supplier on the passport.
func (d Datasource) LinkSupplier(ctx context.Context, passportID string, supplierID string) error {
	result, err := d.Conn.ExecContext(ctx,
		`UPDATE passports SET linked_supplier_id = $2, updated_at = NOW() WHERE passport_id = $1`,
		passportID, supplierID,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to link supplier", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to read rows affected", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Passport with ID '%s' not found", passportID), nil)
	}
	return nil
}

func (d Datasource) UpdatePassportStatus(ctx context.Context, passportID string, status string) error {
	result, err := d.Conn.ExecContext(ctx,
		`UPDATE passports SET status = $2, updated_at = NOW() WHERE passport_id = $1`,
		passportID, status,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to update passport status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to read rows affected", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Passport with ID '%s' not found", passportID), nil)
	}
	return nil
}

// GetPassportSummaries lists passports newest first, with the linked
// supplier's display name resolved when one exists.
func (d Datasource) GetPassportSummaries(ctx context.Context, limit, offset int) ([]model.PassportSummary, error) {
	rows, err := d.Conn.QueryContext(ctx,
		`SELECT p.passport_id, p.document_type, p.current_phase, p.status, p.confidence_score, COALESCE(s.name, ''), p.created_at, p.updated_at
		 FROM passports p
		 LEFT JOIN suppliers s ON s.supplier_id = p.linked_supplier_id
		 ORDER BY p.created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to list passports", err)
	}
	defer rows.Close()

	summaries := []model.PassportSummary{}
	for rows.Next() {
		summary := model.PassportSummary{}
		err = rows.Scan(
			&summary.PassportID, &summary.DocumentType, &summary.CurrentPhase,
			&summary.Status, &summary.ConfidenceScore, &summary.LinkedSupplierName,
			&summary.CreatedAt, &summary.UpdatedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to scan passport summary", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "error iterating passport summaries", err)
	}
	return summaries, nil
}

// GetPassportStats aggregates pipeline-wide counters in one round trip.
func (d Datasource) GetPassportStats(ctx context.Context) (*model.PassportStats, error) {
	stats := model.PassportStats{}
	err := d.Conn.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COUNT(*) FILTER (WHERE status = 'in_progress'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COALESCE(AVG(confidence_score) FILTER (WHERE confidence_score > 0), 0)
		 FROM passports`,
	).Scan(&stats.Total, &stats.Completed, &stats.InProgress, &stats.Failed, &stats.AverageConfidence)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to aggregate passport stats", err)
	}
	depths, err := d.CountQueueDepths(ctx)
	if err != nil {
		return nil, err
	}
	stats.QueueDepths = depths
	return &stats, nil
}
