package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taxdesk/internal/taxpayer/models"
)

const uniqueViolation = "23505"

const createTaxpayersTable = `CREATE TABLE IF NOT EXISTS taxpayers (
	seq         BIGSERIAL   NOT NULL,
	identifier  TEXT        PRIMARY KEY,
	first_name  TEXT        NOT NULL,
	last_name   TEXT        NOT NULL,
	address     TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const selectTaxpayers = `SELECT identifier, first_name, last_name, address FROM taxpayers`

// Postgres persists records in a single taxpayers table. Insertion order is
// the BIGSERIAL seq column.
type Postgres struct {
	pool   *pgxpool.Pool
	policy MatchPolicy
}

func NewPostgres(pool *pgxpool.Pool, policy MatchPolicy) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Postgres{pool: pool, policy: policy}, nil
}

// Migrate creates the taxpayers table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createTaxpayersTable); err != nil {
		return fmt.Errorf("create taxpayers table: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]models.TaxpayerRecord, error) {
	rows, err := p.pool.Query(ctx, selectTaxpayers+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list taxpayers: %w", err)
	}
	return collectRecords(rows)
}

func (p *Postgres) Search(ctx context.Context, term string) ([]models.TaxpayerRecord, error) {
	rows, err := p.pool.Query(ctx, selectTaxpayers+` WHERE `+p.searchPredicate()+` ORDER BY seq`, term)
	if err != nil {
		return nil, fmt.Errorf("search taxpayers: %w", err)
	}
	return collectRecords(rows)
}

func (p *Postgres) Create(ctx context.Context, record models.TaxpayerRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO taxpayers (identifier, first_name, last_name, address) VALUES ($1, $2, $3, $4)`,
		record.Identifier, record.FirstName, record.LastName, record.Address,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("taxpayer %q: %w", record.Identifier, ErrConflict)
		}
		return fmt.Errorf("insert taxpayer: %w", err)
	}
	return nil
}

// searchPredicate renders the match policy against parameter $1.
func (p *Postgres) searchPredicate() string {
	col, arg := "identifier", "$1"
	if !p.policy.CaseSensitive {
		col, arg = "lower(identifier)", "lower($1)"
	}
	switch p.policy.Mode {
	case MatchExact:
		return col + " = " + arg
	case MatchPrefix:
		return "starts_with(" + col + ", " + arg + ")"
	default:
		return "strpos(" + col + ", " + arg + ") > 0"
	}
}

func collectRecords(rows pgx.Rows) ([]models.TaxpayerRecord, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TaxpayerRecord, error) {
		var r models.TaxpayerRecord
		err := row.Scan(&r.Identifier, &r.FirstName, &r.LastName, &r.Address)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan taxpayers: %w", err)
	}
	if records == nil {
		records = []models.TaxpayerRecord{}
	}
	return records, nil
}
