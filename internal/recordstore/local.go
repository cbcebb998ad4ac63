package recordstore

import (
	"context"

	"taxdesk/internal/recordstore/store"
	"taxdesk/internal/taxpayer/models"
)

// Local serves the Client contract from an in-process backend. The console
// uses it when no remote store URL is configured.
type Local struct {
	backend store.Backend
}

func NewLocal(backend store.Backend) *Local {
	return &Local{backend: backend}
}

func (l *Local) ListAll(ctx context.Context) ([]models.TaxpayerRecord, error) {
	records, err := l.backend.List(ctx)
	if err != nil {
		return nil, Normalize(OpListAll, err)
	}
	return records, nil
}

func (l *Local) SearchByID(ctx context.Context, term string) ([]models.TaxpayerRecord, error) {
	records, err := l.backend.Search(ctx, term)
	if err != nil {
		return nil, Normalize(OpSearchByID, err)
	}
	return records, nil
}

func (l *Local) Create(ctx context.Context, record models.TaxpayerRecord) error {
	if err := l.backend.Create(ctx, record); err != nil {
		return Normalize(OpCreate, err)
	}
	return nil
}
