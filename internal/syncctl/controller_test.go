package syncctl

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"taxdesk/internal/recordstore"
	"taxdesk/internal/syncctl/metrics"
	"taxdesk/internal/syncctl/mocks"
	"taxdesk/internal/taxpayer/models"
	dErrors "taxdesk/pkg/domain-errors"
	"taxdesk/pkg/requestcontext"
)

//go:generate mockgen -source=controller.go -destination=mocks/mocks.go -package=mocks RecordStore

type ControllerSuite struct {
	suite.Suite
	ctx   context.Context
	store *gatedStore
	c     *Controller
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = newGatedStore()
	s.c = New(s.store)
}

func (s *ControllerSuite) TestInitialState() {
	state := s.c.Snapshot()
	s.NotNil(state.Records)
	s.Empty(state.Records)
	s.False(state.Busy)
	s.Equal(StatusIdle, state.Status)
	s.False(state.ModalOpen)
	s.Nil(state.Draft)
	s.Nil(state.Error)
}

func (s *ControllerSuite) TestBusyTracksOutstandingCalls() {
	first := s.c.Refresh(s.ctx)
	firstCall := s.store.next(s.T())
	second := s.c.Search(s.ctx, "T")
	secondCall := s.store.next(s.T())

	s.True(s.c.Snapshot().Busy)
	s.Equal(StatusLoading, s.c.Snapshot().Status)

	secondCall.resolve(ann)
	settle(s.T(), second)
	s.True(s.c.Snapshot().Busy, "one call is still outstanding")

	firstCall.fail(errors.New("connection refused"))
	settle(s.T(), first)

	state := s.c.Snapshot()
	s.False(state.Busy, "busy clears even when the last call fails")
	s.Equal(StatusIdle, state.Status)
	s.Equal([]models.TaxpayerRecord{ann}, state.Records)
	s.Nil(state.Error, "superseded failures are not surfaced")
	s.True(recordstore.IsUnavailable(first.Err()))
	s.False(first.Applied())
}

func (s *ControllerSuite) TestFailedRefreshKeepsRecords() {
	call := s.c.Refresh(s.ctx)
	s.store.next(s.T()).resolve(ann)
	settle(s.T(), call)

	call = s.c.Refresh(s.ctx)
	s.store.next(s.T()).fail(errors.New("502 bad gateway"))
	settle(s.T(), call)

	state := s.c.Snapshot()
	s.Equal([]models.TaxpayerRecord{ann}, state.Records)
	s.False(state.Busy)
	s.Require().NotNil(state.Error)
	s.Equal(recordstore.KindStoreUnavailable, state.Error.Kind)
	s.Equal(recordstore.OpListAll, state.Error.Op)
	s.True(call.Applied())

	s.c.DismissError()
	s.Nil(s.c.Snapshot().Error)
}

func (s *ControllerSuite) TestSuccessfulRetryClearsNotice() {
	call := s.c.Refresh(s.ctx)
	s.store.next(s.T()).fail(errors.New("connection refused"))
	settle(s.T(), call)
	s.Require().NotNil(s.c.Snapshot().Error)

	call = s.c.Refresh(s.ctx)
	s.store.next(s.T()).resolve(ann)
	settle(s.T(), call)

	state := s.c.Snapshot()
	s.Equal([]models.TaxpayerRecord{ann}, state.Records)
	s.Nil(state.Error)
}

func (s *ControllerSuite) TestSupersededSuccessKeepsNotice() {
	call := s.c.Refresh(s.ctx)
	s.store.next(s.T()).fail(errors.New("connection refused"))
	settle(s.T(), call)

	stale := s.c.Refresh(s.ctx)
	stalePending := s.store.next(s.T())
	latest := s.c.Search(s.ctx, "T9")
	latestPending := s.store.next(s.T())

	stalePending.resolve(ann)
	settle(s.T(), stale)
	s.False(stale.Applied())
	s.NotNil(s.c.Snapshot().Error, "a discarded result changes nothing")

	latestPending.resolve()
	settle(s.T(), latest)
	s.Nil(s.c.Snapshot().Error)
}

func (s *ControllerSuite) TestSuccessfulCreateAfterRejectionClearsNotice() {
	s.c.OpenCreate()
	call, err := s.c.SubmitCreate(s.ctx, ann)
	s.Require().NoError(err)
	s.store.next(s.T()).fail(recordstore.Rejected(recordstore.OpCreate, "taxpayer T1 already exists", nil))
	settle(s.T(), call)

	state := s.c.Snapshot()
	s.True(state.ModalOpen)
	s.Require().NotNil(state.Error)
	s.Equal(recordstore.KindValidationRejected, state.Error.Kind)

	call, err = s.c.SubmitCreate(s.ctx, bo)
	s.Require().NoError(err)
	s.store.next(s.T()).resolve()
	settle(s.T(), call)

	state = s.c.Snapshot()
	s.False(state.ModalOpen)
	s.Nil(state.Error)

	s.store.next(s.T()).resolve(ann, bo)
	s.Require().NoError(call.Wait(s.ctx))
	s.Nil(s.c.Snapshot().Error)
}

func (s *ControllerSuite) TestSearchSetsTermBeforeResolving() {
	call := s.c.Search(s.ctx, "X9")
	s.Equal("X9", s.c.Snapshot().SearchTerm)

	pending := s.store.next(s.T())
	s.Equal("search", pending.op)
	s.Equal("X9", pending.term)
	pending.resolve()
	settle(s.T(), call)
	s.Empty(s.c.Snapshot().Records)
}

func (s *ControllerSuite) TestEmptySearchTermIsForwarded() {
	call := s.c.Search(s.ctx, "")
	pending := s.store.next(s.T())
	s.Equal("search", pending.op)
	s.Equal("", pending.term)
	pending.resolve(ann, bo)
	settle(s.T(), call)
	s.Len(s.c.Snapshot().Records, 2)
}

func (s *ControllerSuite) TestSetSearchTermDoesNotSearch() {
	s.c.SetSearchTerm("T4")
	s.Equal("T4", s.c.Snapshot().SearchTerm)
	s.False(s.c.Snapshot().Busy)
	s.store.idle(s.T())
}

func (s *ControllerSuite) TestDraftEditing() {
	s.Run("edits need an open form", func() {
		err := s.c.SetDraftField("identifier", "T2")
		s.ErrorIs(err, ErrModalClosed)
	})

	s.Run("each edit revalidates only its field", func() {
		s.c.OpenCreate()
		s.Require().NoError(s.c.SetDraftField("firstName", "Bo"))
		s.Require().NoError(s.c.SetDraftField("lastName", ""))

		draft := s.c.Snapshot().Draft
		s.Require().NotNil(draft)
		s.Equal(models.DraftField{Value: "Bo"}, draft.FirstName)
		s.Equal(models.DraftField{Value: "", Error: "Last Name is required"}, draft.LastName)
		s.Equal(models.DraftField{}, draft.Identifier, "untouched fields carry no error")
	})

	s.Run("unknown fields are a bad request", func() {
		err := s.c.SetDraftField("tid", "T2")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("snapshots do not alias the draft", func() {
		before := s.c.Snapshot()
		s.Require().NoError(s.c.SetDraftField("address", "2 St"))
		s.Empty(before.Draft.Address.Value)
	})

	s.Run("closing discards the draft", func() {
		s.c.CloseCreate()
		state := s.c.Snapshot()
		s.False(state.ModalOpen)
		s.Nil(state.Draft)

		s.c.OpenCreate()
		s.Equal(models.EmptyDraft(), *s.c.Snapshot().Draft)
	})
}

func (s *ControllerSuite) TestValidateField() {
	msg, err := s.c.ValidateField("address", "")
	s.Require().NoError(err)
	s.Equal("Address is required", msg)

	msg, err = s.c.ValidateField("address", " ")
	s.Require().NoError(err)
	s.Empty(msg)

	_, err = s.c.ValidateField("ssn", "x")
	s.Error(err)
}

func (s *ControllerSuite) TestSubmitRequiresOpenForm() {
	_, err := s.c.SubmitCreate(s.ctx, bo)
	s.ErrorIs(err, ErrModalClosed)
	_, err = s.c.SubmitDraft(s.ctx)
	s.ErrorIs(err, ErrModalClosed)
	s.store.idle(s.T())
}

func (s *ControllerSuite) TestSubmitRefusedWhileBusy() {
	refresh := s.c.Refresh(s.ctx)
	pending := s.store.next(s.T())
	s.c.OpenCreate()

	_, err := s.c.SubmitCreate(s.ctx, bo)
	s.ErrorIs(err, ErrBusy)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.store.idle(s.T())
	s.Equal(bo, s.c.Snapshot().Draft.Record(), "the draft keeps the submitted values")

	pending.resolve()
	settle(s.T(), refresh)

	call, err := s.c.SubmitDraft(s.ctx)
	s.Require().NoError(err)
	create := s.store.next(s.T())
	s.Equal(bo, create.record)
	create.resolve()
	settle(s.T(), call)
	s.store.next(s.T()).resolve(bo)
	s.Require().NoError(call.Wait(s.ctx))
}

func (s *ControllerSuite) TestSuccessfulCreateClosesFormAndRefreshes() {
	s.c.OpenCreate()
	call, err := s.c.SubmitCreate(s.ctx, bo)
	s.Require().NoError(err)
	s.True(s.c.Snapshot().Busy)

	s.store.next(s.T()).resolve()
	settle(s.T(), call)
	s.Require().NoError(call.Err())

	state := s.c.Snapshot()
	s.False(state.ModalOpen)
	s.Nil(state.Draft)
	s.True(state.Busy, "the follow-up refresh keeps the view loading")

	next := call.Next()
	s.Require().NotNil(next)
	s.Equal(recordstore.OpListAll, next.Op)
	refresh := s.store.next(s.T())
	s.Equal("list", refresh.op)
	refresh.resolve(ann, bo)
	settle(s.T(), next)

	state = s.c.Snapshot()
	s.Equal([]models.TaxpayerRecord{ann, bo}, state.Records)
	s.False(state.Busy)
}

func (s *ControllerSuite) TestCreateSuccessLeavesReopenedFormAlone() {
	s.c.OpenCreate()
	call, err := s.c.SubmitCreate(s.ctx, bo)
	s.Require().NoError(err)
	pending := s.store.next(s.T())

	s.c.CloseCreate()
	s.c.OpenCreate()
	s.Require().NoError(s.c.SetDraftField("identifier", "T3"))

	pending.resolve()
	settle(s.T(), call)
	s.store.next(s.T()).resolve(bo)
	s.Require().NoError(call.Wait(s.ctx))

	state := s.c.Snapshot()
	s.True(state.ModalOpen)
	s.Equal("T3", state.Draft.Identifier.Value)
	s.Equal([]models.TaxpayerRecord{bo}, state.Records)
}

func (s *ControllerSuite) TestCallsOutliveTheCallerContext() {
	ctx, cancel := context.WithCancel(requestcontext.WithRequestID(s.ctx, "req-1"))
	call := s.c.Refresh(ctx)
	cancel()

	pending := s.store.next(s.T())
	s.NoError(pending.ctx.Err())
	s.Equal("req-1", requestcontext.RequestID(pending.ctx))
	pending.resolve(ann)
	settle(s.T(), call)
	s.True(call.Applied())
	s.Equal([]models.TaxpayerRecord{ann}, s.c.Snapshot().Records)
}

func (s *ControllerSuite) TestCallTimeoutSurfacesUnavailable() {
	c := New(s.store, WithCallTimeout(20*time.Millisecond))
	call := c.Refresh(s.ctx)
	s.store.next(s.T())
	settle(s.T(), call)

	s.True(recordstore.IsUnavailable(call.Err()))
	s.ErrorIs(call.Err(), context.DeadlineExceeded)
	state := c.Snapshot()
	s.False(state.Busy)
	s.Require().NotNil(state.Error)
	s.Equal(recordstore.KindStoreUnavailable, state.Error.Kind)
}

func (s *ControllerSuite) TestSubscribe() {
	var (
		mu       sync.Mutex
		versions []uint64
	)
	cancel := s.c.Subscribe(func(v ViewState) {
		mu.Lock()
		versions = append(versions, v.Version)
		mu.Unlock()
	})

	s.c.SetSearchTerm("T1")
	s.c.OpenCreate()
	cancel()
	s.c.CloseCreate()

	mu.Lock()
	defer mu.Unlock()
	s.Len(versions, 2)
	s.Less(versions[0], versions[1])
	cancel()
}

func (s *ControllerSuite) TestWaitBlocksUntilSettled() {
	s.c.Refresh(s.ctx)
	pending := s.store.next(s.T())

	waited := make(chan struct{})
	go func() {
		s.c.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		s.FailNow("Wait returned with a call in flight")
	case <-time.After(20 * time.Millisecond):
	}
	pending.resolve()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		s.FailNow("Wait did not return")
	}
}

func (s *ControllerSuite) TestMetrics() {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := New(s.store, WithMetrics(m))

	old := c.Refresh(s.ctx)
	oldCall := s.store.next(s.T())
	latest := c.Search(s.ctx, "T1")
	s.Equal(2.0, promtest.ToFloat64(m.InFlight))

	s.store.next(s.T()).resolve(ann)
	settle(s.T(), latest)
	oldCall.fail(errors.New("boom"))
	settle(s.T(), old)

	s.Equal(0.0, promtest.ToFloat64(m.InFlight))
	s.Equal(1.0, promtest.ToFloat64(m.Commands.WithLabelValues("refresh")))
	s.Equal(1.0, promtest.ToFloat64(m.Commands.WithLabelValues("search")))
	s.Equal(1.0, promtest.ToFloat64(m.Discarded.WithLabelValues(string(recordstore.OpListAll))))
	s.Equal(1.0, promtest.ToFloat64(m.RemoteErrors.WithLabelValues(string(recordstore.OpListAll), string(recordstore.KindStoreUnavailable))))
}

// =============================================================================
// Last-request-wins over arbitrary resolution orders
// =============================================================================

func TestLatestIssuedFetchWins(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))
	recordFor := func(i int) models.TaxpayerRecord {
		id := fmt.Sprintf("T%d", i)
		return models.TaxpayerRecord{Identifier: id, FirstName: "F" + id, LastName: "L" + id, Address: id + " Rd"}
	}

	for trial := range 25 {
		t.Run(fmt.Sprintf("trial %d", trial), func(t *testing.T) {
			store := newGatedStore()
			c := New(store)
			n := 2 + rng.IntN(5)

			calls := make([]*Call, n)
			parked := make([]*pendingCall, n)
			for i := range n {
				if rng.IntN(2) == 0 {
					calls[i] = c.Refresh(ctx)
				} else {
					calls[i] = c.Search(ctx, recordFor(i).Identifier)
				}
				parked[i] = store.next(t)
				require.Equal(t, uint64(i+1), calls[i].Seq)
			}

			for _, i := range rng.Perm(n) {
				if i != n-1 && rng.IntN(3) == 0 {
					parked[i].fail(errors.New("transient"))
				} else {
					parked[i].resolve(recordFor(i))
				}
				settle(t, calls[i])
			}
			c.Wait()

			state := c.Snapshot()
			assert.Equal(t, []models.TaxpayerRecord{recordFor(n - 1)}, state.Records)
			assert.False(t, state.Busy)
			assert.Nil(t, state.Error)
			for i, call := range calls {
				assert.Equal(t, i == n-1, call.Applied(), "call %d", i)
			}
		})
	}
}

// =============================================================================
// Submit validation against a strict mock
// =============================================================================

func TestSubmitCreateCallsStoreOnlyWhenValid(t *testing.T) {
	ctx := context.Background()
	incomplete := []models.TaxpayerRecord{
		{FirstName: "Bo", LastName: "Ng", Address: "2 St"},
		{Identifier: "T2", LastName: "Ng", Address: "2 St"},
		{Identifier: "T2", FirstName: "Bo", Address: "2 St"},
		{Identifier: "T2", FirstName: "Bo", LastName: "Ng"},
		{},
	}

	for _, rec := range incomplete {
		t.Run(fmt.Sprintf("%+v", rec), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := mocks.NewMockRecordStore(ctrl)
			store.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)

			c := New(store)
			c.OpenCreate()
			call, err := c.SubmitCreate(ctx, rec)
			require.Error(t, err)
			assert.Nil(t, call)

			fields, ok := models.AsFieldErrors(err)
			require.True(t, ok)
			for _, f := range models.Fields {
				_, flagged := fields[f]
				assert.Equal(t, rec.Value(f) == "", flagged, "field %s", f)
			}

			state := c.Snapshot()
			assert.True(t, state.ModalOpen)
			assert.False(t, state.Busy)
		})
	}

	t.Run("complete record", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockRecordStore(ctrl)
		gomock.InOrder(
			store.EXPECT().Create(gomock.Any(), bo).Return(nil).Times(1),
			store.EXPECT().ListAll(gomock.Any()).Return([]models.TaxpayerRecord{ann, bo}, nil).Times(1),
		)

		c := New(store)
		c.OpenCreate()
		call, err := c.SubmitCreate(ctx, bo)
		require.NoError(t, err)
		require.NoError(t, call.Wait(ctx))
		c.Wait()

		state := c.Snapshot()
		assert.False(t, state.ModalOpen)
		assert.Equal(t, []models.TaxpayerRecord{ann, bo}, state.Records)
	})

	t.Run("unavailable store keeps the form", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockRecordStore(ctrl)
		store.EXPECT().Create(gomock.Any(), bo).Return(recordstore.Unavailable(recordstore.OpCreate, "record store unavailable", nil))

		c := New(store)
		c.OpenCreate()
		call, err := c.SubmitCreate(ctx, bo)
		require.NoError(t, err)
		require.NoError(t, call.Wait(ctx))

		assert.True(t, recordstore.IsUnavailable(call.Err()))
		state := c.Snapshot()
		assert.True(t, state.ModalOpen)
		assert.Equal(t, bo, state.Draft.Record())
		require.NotNil(t, state.Error)
		assert.Equal(t, recordstore.KindStoreUnavailable, state.Error.Kind)
	})
}

// instantStore answers every call straight away.
type instantStore struct{}

func (instantStore) ListAll(context.Context) ([]models.TaxpayerRecord, error) {
	return []models.TaxpayerRecord{ann}, nil
}

func (instantStore) SearchByID(context.Context, string) ([]models.TaxpayerRecord, error) {
	return []models.TaxpayerRecord{}, nil
}

func (instantStore) Create(context.Context, models.TaxpayerRecord) error { return nil }

func TestWaitWhileCommandsKeepArriving(t *testing.T) {
	c := New(instantStore{})
	ctx := context.Background()

	var issuers sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		issuers.Add(1)
		go func(i int) {
			defer issuers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if i%2 == 0 {
					c.Refresh(ctx)
				} else {
					c.Search(ctx, "T")
				}
			}
		}(i)
	}

	for i := 0; i < 200; i++ {
		c.Wait()
	}
	close(stop)
	issuers.Wait()

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after commands stopped")
	}
	state := c.Snapshot()
	assert.False(t, state.Busy)
	c.mu.Lock()
	assert.Zero(t, c.running)
	c.mu.Unlock()
}
