package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/internal/cache"
	"github.com/docbridge/docbridge/model"
)

const enabledSuppliersCacheKey = "suppliers:enabled"

// RecordSupplier registers a supplier in the match registry.
func (d Datasource) RecordSupplier(ctx context.Context, s *model.Supplier) (*model.Supplier, error) {
	metaDataJSON, err := json.Marshal(s.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to marshal supplier metadata", err)
	}
	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO suppliers (supplier_id, name, code, email, phone, enabled, meta_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.SupplierID, s.Name, s.Code, s.Email, s.Phone, s.Enabled, metaDataJSON, s.CreatedAt,
	)
	if err != nil {
		pqErr, ok := err.(interface{ SQLState() string })
		if ok && pqErr.SQLState() == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Supplier with ID '%s' already exists", s.SupplierID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to record supplier", err)
	}
	if d.Cache != nil {
		if err := d.Cache.Delete(ctx, enabledSuppliersCacheKey); err != nil && !cache.IsMiss(err) {
			return s, nil
		}
	}
	return s, nil
}

func (d Datasource) GetSupplier(ctx context.Context, supplierID string) (*model.Supplier, error) {
	s := model.Supplier{}
	var metaDataJSON []byte
	err := d.Conn.QueryRowContext(ctx,
		`SELECT supplier_id, name, code, COALESCE(email, ''), COALESCE(phone, ''), enabled, meta_data, created_at
		 FROM suppliers WHERE supplier_id = $1`,
		supplierID,
	).Scan(&s.SupplierID, &s.Name, &s.Code, &s.Email, &s.Phone, &s.Enabled, &metaDataJSON, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Supplier with ID '%s' not found", supplierID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to retrieve supplier", err)
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &s.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to unmarshal supplier metadata", err)
		}
	}
	return &s, nil
}

// GetEnabledSuppliers returns the candidate set for identification, served
// from cache when possible. Registration order is preserved so scoring ties
// resolve deterministically to the earlier registered supplier.
func (d Datasource) GetEnabledSuppliers(ctx context.Context) ([]model.Supplier, error) {
	if d.Cache != nil {
		var cached []model.Supplier
		if err := d.Cache.Get(ctx, enabledSuppliersCacheKey, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	rows, err := d.Conn.QueryContext(ctx,
		`SELECT supplier_id, name, code, COALESCE(email, ''), COALESCE(phone, ''), enabled, meta_data, created_at
		 FROM suppliers WHERE enabled = TRUE ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to list enabled suppliers", err)
	}
	defer rows.Close()

	suppliers := []model.Supplier{}
	for rows.Next() {
		s := model.Supplier{}
		var metaDataJSON []byte
		err = rows.Scan(&s.SupplierID, &s.Name, &s.Code, &s.Email, &s.Phone, &s.Enabled, &metaDataJSON, &s.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to scan supplier", err)
		}
		if len(metaDataJSON) > 0 {
			if err := json.Unmarshal(metaDataJSON, &s.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to unmarshal supplier metadata", err)
			}
		}
		suppliers = append(suppliers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "error iterating suppliers", err)
	}

	if d.Cache != nil && len(suppliers) > 0 {
		_ = d.Cache.Set(ctx, enabledSuppliersCacheKey, suppliers, 5*time.Minute)
	}
	return suppliers, nil
}
