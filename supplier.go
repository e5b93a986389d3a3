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
	"time"

	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
)

// CreateSupplier registers a candidate entity for identification matching.
func (d *Docbridge) CreateSupplier(ctx context.Context, supplier *model.Supplier) (*model.Supplier, error) {
	ctx, span := tracer.Start(ctx, "Creating Supplier")
	defer span.End()

	if supplier.Name == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "supplier name is required", nil)
	}
	if supplier.Code == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "supplier code is required", nil)
	}
	if supplier.SupplierID == "" {
		supplier.SupplierID = model.GenerateUUIDWithSuffix("sup")
	}
	supplier.Enabled = true
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now()
	}
	return d.datasource.RecordSupplier(ctx, supplier)
}

// GetSupplier retrieves one supplier by ID.
func (d *Docbridge) GetSupplier(ctx context.Context, supplierID string) (*model.Supplier, error) {
	ctx, span := tracer.Start(ctx, "Getting Supplier")
	defer span.End()
	return d.datasource.GetSupplier(ctx, supplierID)
}

// ListEnabledSuppliers returns all candidates in registration order.
func (d *Docbridge) ListEnabledSuppliers(ctx context.Context) ([]model.Supplier, error) {
	ctx, span := tracer.Start(ctx, "Listing Suppliers")
	defer span.End()
	return d.datasource.GetEnabledSuppliers(ctx)
}
