// Package syncctl owns the console's view state and keeps it in step with
// the record store.
//
// Every command mutates state under one mutex and returns immediately; remote
// calls run on their own goroutines and apply their outcome when they settle.
// Fetches (refresh and search) are tagged with an increasing sequence number
// at issue time and only the highest issued sequence may replace Records, so
// a slow, older response can never overwrite a newer one.
package syncctl

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"taxdesk/internal/recordstore"
	"taxdesk/internal/syncctl/metrics"
	"taxdesk/internal/taxpayer/models"
	"taxdesk/pkg/requestcontext"
)

// RecordStore is the subset of recordstore.Client the controller drives.
type RecordStore interface {
	ListAll(ctx context.Context) ([]models.TaxpayerRecord, error)
	SearchByID(ctx context.Context, term string) ([]models.TaxpayerRecord, error)
	Create(ctx context.Context, record models.TaxpayerRecord) error
}

type fetchFunc func(ctx context.Context) ([]models.TaxpayerRecord, error)

type Controller struct {
	store       RecordStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	callTimeout time.Duration

	mu          sync.Mutex
	state       ViewState
	issued      uint64 // highest fetch sequence handed out
	outstanding int
	modalGen    uint64 // bumped whenever the create form opens or closes
	running     int    // call goroutines not yet returned; guarded by mu
	idle        *sync.Cond

	// notifyMu serializes publish so listeners see versions in order.
	notifyMu  sync.Mutex
	subMu     sync.Mutex
	listeners map[uint64]func(ViewState)
	nextSub   uint64
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithCallTimeout bounds every remote call. Zero leaves calls to the store's
// own timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.callTimeout = d
	}
}

func New(store RecordStore, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		logger:    slog.New(slog.DiscardHandler),
		state:     initialState(),
		listeners: make(map[uint64]func(ViewState)),
	}
	c.idle = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh reloads every record.
func (c *Controller) Refresh(ctx context.Context) *Call {
	c.metrics.IncCommand("refresh")
	c.mu.Lock()
	call := c.issueFetchLocked(ctx, recordstore.OpListAll, c.store.ListAll)
	c.mu.Unlock()
	c.publish()
	return call
}

// Search records term as the current search term and loads the records whose
// identifier matches it. An empty term is sent to the store unchanged.
func (c *Controller) Search(ctx context.Context, term string) *Call {
	c.metrics.IncCommand("search")
	c.mu.Lock()
	c.state.SearchTerm = term
	call := c.issueFetchLocked(ctx, recordstore.OpSearchByID, func(ctx context.Context) ([]models.TaxpayerRecord, error) {
		return c.store.SearchByID(ctx, term)
	})
	c.mu.Unlock()
	c.publish()
	return call
}

// SetSearchTerm updates the search box without searching.
func (c *Controller) SetSearchTerm(term string) {
	c.metrics.IncCommand("set_search_term")
	c.mu.Lock()
	c.state.SearchTerm = term
	c.touchLocked()
	c.mu.Unlock()
	c.publish()
}

// OpenCreate shows the create form with an empty draft.
func (c *Controller) OpenCreate() {
	c.metrics.IncCommand("open_create")
	c.mu.Lock()
	draft := models.EmptyDraft()
	c.state.ModalOpen = true
	c.state.Draft = &draft
	c.modalGen++
	c.touchLocked()
	c.mu.Unlock()
	c.publish()
}

// CloseCreate hides the create form and discards the draft.
func (c *Controller) CloseCreate() {
	c.metrics.IncCommand("close_create")
	c.mu.Lock()
	c.closeModalLocked()
	c.touchLocked()
	c.mu.Unlock()
	c.publish()
}

// ValidateField applies the form rule for the named field. It returns the
// message to display, or "" when value is acceptable.
func (c *Controller) ValidateField(name, value string) (string, error) {
	f, err := models.ParseField(name)
	if err != nil {
		return "", unknownField(err)
	}
	return models.ValidateField(f, value), nil
}

// SetDraftField replaces one draft value and revalidates that field only.
func (c *Controller) SetDraftField(name, value string) error {
	c.metrics.IncCommand("set_draft_field")
	f, err := models.ParseField(name)
	if err != nil {
		return unknownField(err)
	}
	c.mu.Lock()
	if !c.state.ModalOpen {
		c.mu.Unlock()
		return ErrModalClosed
	}
	draft := c.state.Draft.WithValue(f, value)
	c.state.Draft = &draft
	c.touchLocked()
	c.mu.Unlock()
	c.publish()
	return nil
}

// SubmitCreate validates record and, when every field is present, creates it.
// The draft takes the submitted values either way. Invalid input returns the
// field errors without any remote call.
func (c *Controller) SubmitCreate(ctx context.Context, record models.TaxpayerRecord) (*Call, error) {
	c.metrics.IncCommand("submit_create")
	c.mu.Lock()
	return c.submitLocked(ctx, models.DraftFrom(record))
}

// SubmitDraft submits the draft held by the controller.
func (c *Controller) SubmitDraft(ctx context.Context) (*Call, error) {
	c.metrics.IncCommand("submit_draft")
	c.mu.Lock()
	if !c.state.ModalOpen {
		c.mu.Unlock()
		return nil, ErrModalClosed
	}
	return c.submitLocked(ctx, *c.state.Draft)
}

// DismissError clears the current error notice.
func (c *Controller) DismissError() {
	c.metrics.IncCommand("dismiss_error")
	c.mu.Lock()
	c.state.Error = nil
	c.touchLocked()
	c.mu.Unlock()
	c.publish()
}

// Snapshot returns a copy of the current view state.
func (c *Controller) Snapshot() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not block or call
// back into the controller.
func (c *Controller) Subscribe(fn func(ViewState)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.listeners, id)
			c.subMu.Unlock()
		})
	}
}

// Wait blocks until every issued call, including refreshes triggered by
// creates, has settled. Commands may keep arriving while it waits.
func (c *Controller) Wait() {
	c.mu.Lock()
	for c.running > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// submitLocked must be entered with c.mu held and releases it.
func (c *Controller) submitLocked(ctx context.Context, draft models.Draft) (*Call, error) {
	if !c.state.ModalOpen {
		c.mu.Unlock()
		return nil, ErrModalClosed
	}
	draft, ok := draft.Validated()
	c.state.Draft = &draft
	c.touchLocked()
	if !ok {
		c.mu.Unlock()
		c.publish()
		return nil, fieldsRequired(draft.Errors())
	}
	if c.outstanding > 0 {
		c.mu.Unlock()
		c.publish()
		return nil, ErrBusy
	}

	call := newCall(recordstore.OpCreate, 0)
	gen := c.modalGen
	c.beginLocked()
	c.mu.Unlock()
	c.publish()

	go c.runCreate(ctx, call, draft.Record(), gen)
	return call, nil
}

// issueFetchLocked hands out the next sequence number and starts fn.
func (c *Controller) issueFetchLocked(ctx context.Context, op recordstore.Op, fn fetchFunc) *Call {
	c.issued++
	call := newCall(op, c.issued)
	c.beginLocked()
	go c.runFetch(ctx, call, fn)
	return call
}

func (c *Controller) runFetch(ctx context.Context, call *Call, fn fetchFunc) {
	defer c.exited()

	callCtx, cancel := c.callContext(ctx)
	records, err := fn(callCtx)
	cancel()
	storeErr := recordstore.Normalize(call.Op, err)

	c.mu.Lock()
	applied := call.Seq == c.issued
	if applied {
		if storeErr == nil {
			c.state.Records = slices.Clone(records)
			if c.state.Records == nil {
				c.state.Records = []models.TaxpayerRecord{}
			}
			c.state.Error = nil
		} else {
			c.state.Error = noticeFrom(storeErr)
		}
	}
	c.endLocked()
	c.mu.Unlock()

	c.logOutcome(ctx, call, storeErr, applied)
	c.publish()
	call.finish(storeErr, applied, nil)
}

func (c *Controller) runCreate(ctx context.Context, call *Call, record models.TaxpayerRecord, gen uint64) {
	defer c.exited()

	callCtx, cancel := c.callContext(ctx)
	err := c.store.Create(callCtx, record)
	cancel()
	storeErr := recordstore.Normalize(call.Op, err)

	var next *Call
	c.mu.Lock()
	if storeErr == nil {
		c.state.Error = nil
		// The form may have been closed and reopened while the call was out;
		// a new session keeps its own draft.
		if c.modalGen == gen {
			c.closeModalLocked()
		}
		next = c.issueFetchLocked(ctx, recordstore.OpListAll, c.store.ListAll)
	} else {
		c.state.Error = noticeFrom(storeErr)
	}
	c.endLocked()
	c.mu.Unlock()

	c.logOutcome(ctx, call, storeErr, true)
	if storeErr == nil {
		c.logger.InfoContext(ctx, "taxpayer created",
			"identifier", record.Identifier,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	c.publish()
	call.finish(storeErr, true, next)
}

// callContext detaches the call from the caller's cancellation: a console
// request ending must not abort the call it dispatched.
func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if c.callTimeout > 0 {
		return context.WithTimeout(ctx, c.callTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Controller) beginLocked() {
	c.outstanding++
	c.running++
	c.syncBusyLocked()
}

// exited runs last in every call goroutine.
func (c *Controller) exited() {
	c.mu.Lock()
	c.running--
	if c.running == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

func (c *Controller) endLocked() {
	c.outstanding--
	c.syncBusyLocked()
}

func (c *Controller) syncBusyLocked() {
	c.state.Busy = c.outstanding > 0
	if c.state.Busy {
		c.state.Status = StatusLoading
	} else {
		c.state.Status = StatusIdle
	}
	c.metrics.SetInFlight(c.outstanding)
	c.touchLocked()
}

func (c *Controller) closeModalLocked() {
	c.state.ModalOpen = false
	c.state.Draft = nil
	c.modalGen++
}

func (c *Controller) touchLocked() {
	c.state.Version++
}

// publish hands the latest snapshot to every listener. Holding notifyMu
// while taking the snapshot keeps deliveries ordered by version.
func (c *Controller) publish() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.subMu.Lock()
	if len(c.listeners) == 0 {
		c.subMu.Unlock()
		return
	}
	fns := make([]func(ViewState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	snap := c.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Controller) logOutcome(ctx context.Context, call *Call, err *recordstore.StoreError, applied bool) {
	requestID := requestcontext.RequestID(ctx)
	if !applied {
		c.metrics.IncDiscarded(string(call.Op))
		c.logger.DebugContext(ctx, "superseded fetch discarded",
			"op", string(call.Op),
			"seq", call.Seq,
			"request_id", requestID,
		)
	}
	if err == nil {
		return
	}
	c.metrics.IncRemoteError(string(err.Op), string(err.Kind))
	c.logger.WarnContext(ctx, "record store call failed",
		"op", string(err.Op),
		"kind", string(err.Kind),
		"seq", call.Seq,
		"applied", applied,
		"error", err,
		"request_id", requestID,
	)
}
