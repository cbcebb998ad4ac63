// Package store holds the record store backends used by the reference record
// store server and by the in-process client.
package store

import (
	"context"

	"taxdesk/internal/taxpayer/models"
	"taxdesk/pkg/platform/sentinel"
)

// ErrConflict is returned when a record with the same identifier exists.
// Callers translate it at their boundary.
var ErrConflict = sentinel.ErrConflict

// Backend is the persistence contract behind the three remote operations.
// Implementations return records in insertion order and enforce identifier
// uniqueness. Create rejects incomplete records with models.FieldErrors.
type Backend interface {
	List(ctx context.Context) ([]models.TaxpayerRecord, error)
	Search(ctx context.Context, term string) ([]models.TaxpayerRecord, error)
	Create(ctx context.Context, record models.TaxpayerRecord) error
}
