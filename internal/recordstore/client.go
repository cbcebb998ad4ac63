// Package recordstore is the client side of the external taxpayer record store.
//
// The store exposes three operations: list-all, search-by-id and create. Every
// Client implementation returns *StoreError for failures and never retries;
// retry is the caller's decision.
package recordstore

import (
	"context"

	"taxdesk/internal/taxpayer/models"
)

// Client is the uniform contract over the three remote operations. Calls have
// no effect on local state.
type Client interface {
	// ListAll returns every record in store order.
	ListAll(ctx context.Context) ([]models.TaxpayerRecord, error)

	// SearchByID returns the records whose identifier matches term. The match
	// policy belongs to the store. An empty term is forwarded unchanged.
	SearchByID(ctx context.Context, term string) ([]models.TaxpayerRecord, error)

	// Create persists a new record.
	Create(ctx context.Context, record models.TaxpayerRecord) error
}
