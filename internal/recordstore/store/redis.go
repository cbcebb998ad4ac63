package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"taxdesk/internal/taxpayer/models"
)

// createScript inserts a record only when its key is absent and appends the
// identifier to the order list in the same step.
// KEYS[1] record key, KEYS[2] order list; ARGV[1] payload, ARGV[2] identifier.
var createScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[2], ARGV[2])
return 1
`)

// Redis stores each record as a JSON string under <prefix>record:<id> and
// keeps insertion order in the <prefix>order list.
type Redis struct {
	client *redis.Client
	prefix string
	policy MatchPolicy
}

func NewRedis(client *redis.Client, prefix string, policy MatchPolicy) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "taxpayer:"
	}
	return &Redis{client: client, prefix: prefix, policy: policy}, nil
}

func (r *Redis) recordKey(identifier string) string {
	return r.prefix + "record:" + identifier
}

func (r *Redis) orderKey() string {
	return r.prefix + "order"
}

func (r *Redis) List(ctx context.Context) ([]models.TaxpayerRecord, error) {
	ids, err := r.client.LRange(ctx, r.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list taxpayer order: %w", err)
	}
	if len(ids) == 0 {
		return []models.TaxpayerRecord{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load taxpayers: %w", err)
	}
	records := make([]models.TaxpayerRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// order entry without a record; skip rather than fail the listing
			continue
		}
		var rec models.TaxpayerRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode taxpayer %q: %w", ids[i], err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *Redis) Search(ctx context.Context, term string) ([]models.TaxpayerRecord, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.TaxpayerRecord, 0)
	for _, rec := range all {
		if r.policy.Matches(rec.Identifier, term) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *Redis) Create(ctx context.Context, record models.TaxpayerRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode taxpayer: %w", err)
	}
	created, err := createScript.Run(ctx, r.client,
		[]string{r.recordKey(record.Identifier), r.orderKey()},
		string(payload), record.Identifier,
	).Int()
	if err != nil {
		return fmt.Errorf("create taxpayer: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("taxpayer %q: %w", record.Identifier, ErrConflict)
	}
	return nil
}
