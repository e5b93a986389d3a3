package model

import "time"

// Supplier is a candidate business entity that inbound documents are matched
// against during identification. The enabled list changes rarely and is safe
// to cache briefly.
type Supplier struct {
	ID         int64                  `json:"-"`
	SupplierID string                 `json:"supplier_id"`
	Name       string                 `json:"name"`
	Code       string                 `json:"code"`
	Email      string                 `json:"email,omitempty"`
	Phone      string                 `json:"phone,omitempty"`
	Enabled    bool                   `json:"enabled"`
	MetaData   map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// SupplierScore is one candidate's result from the confidence scorer. Every
// scored candidate is returned, not only the winner, so operators can see
// near-misses.
type SupplierScore struct {
	SupplierID     string   `json:"supplier_id"`
	SupplierName   string   `json:"supplier_name"`
	Confidence     float64  `json:"confidence"`
	MatchedFactors []string `json:"matched_factors"`
}
