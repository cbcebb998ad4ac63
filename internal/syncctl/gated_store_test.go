package syncctl

import (
	"context"
	"testing"
	"time"

	"taxdesk/internal/taxpayer/models"
)

// gatedStore parks every call until the test answers it, so tests decide the
// order in which calls resolve.
type gatedStore struct {
	calls chan *pendingCall
}

type pendingCall struct {
	ctx    context.Context
	op     string
	term   string
	record models.TaxpayerRecord
	reply  chan reply
}

type reply struct {
	records []models.TaxpayerRecord
	err     error
}

func newGatedStore() *gatedStore {
	return &gatedStore{calls: make(chan *pendingCall, 32)}
}

func (g *gatedStore) park(ctx context.Context, p *pendingCall) ([]models.TaxpayerRecord, error) {
	p.ctx = ctx
	p.reply = make(chan reply, 1)
	g.calls <- p
	select {
	case r := <-p.reply:
		return r.records, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedStore) ListAll(ctx context.Context) ([]models.TaxpayerRecord, error) {
	return g.park(ctx, &pendingCall{op: "list"})
}

func (g *gatedStore) SearchByID(ctx context.Context, term string) ([]models.TaxpayerRecord, error) {
	return g.park(ctx, &pendingCall{op: "search", term: term})
}

func (g *gatedStore) Create(ctx context.Context, record models.TaxpayerRecord) error {
	_, err := g.park(ctx, &pendingCall{op: "create", record: record})
	return err
}

// next returns the next parked call or fails the test.
func (g *gatedStore) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case p := <-g.calls:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a store call")
		return nil
	}
}

// idle fails the test if a call arrives within a short window.
func (g *gatedStore) idle(t *testing.T) {
	t.Helper()
	select {
	case p := <-g.calls:
		t.Fatalf("unexpected store call %q", p.op)
	case <-time.After(20 * time.Millisecond):
	}
}

func (p *pendingCall) resolve(records ...models.TaxpayerRecord) {
	if records == nil {
		records = []models.TaxpayerRecord{}
	}
	p.reply <- reply{records: records}
}

func (p *pendingCall) fail(err error) {
	p.reply <- reply{err: err}
}

func settle(t *testing.T, call *Call) {
	t.Helper()
	select {
	case <-call.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("call %s/%d did not settle", call.Op, call.Seq)
	}
}
