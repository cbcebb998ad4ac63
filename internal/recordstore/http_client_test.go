package recordstore_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"taxdesk/internal/platform/middleware"
	"taxdesk/internal/recordstore"
	"taxdesk/internal/recordstore/metrics"
	"taxdesk/internal/recordstore/server"
	"taxdesk/internal/recordstore/store"
	"taxdesk/internal/taxpayer/models"
	"taxdesk/pkg/platform/circuit"
	"taxdesk/pkg/requestcontext"
)

var ann = models.TaxpayerRecord{Identifier: "T1", FirstName: "Ann", LastName: "Lee", Address: "1 Rd"}

// =============================================================================
// Contract: HTTPClient against the reference store handler
// =============================================================================

type HTTPClientContractSuite struct {
	suite.Suite
	srv    *httptest.Server
	client *recordstore.HTTPClient
}

func TestHTTPClientContractSuite(t *testing.T) {
	suite.Run(t, new(HTTPClientContractSuite))
}

func (s *HTTPClientContractSuite) SetupTest() {
	backend, err := store.NewMemory(store.DefaultMatchPolicy(), ann)
	s.Require().NoError(err)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	server.New(backend, nil).Register(r)
	s.srv = httptest.NewServer(r)
	s.T().Cleanup(s.srv.Close)

	s.client, err = recordstore.NewHTTPClient(s.srv.URL, 2*time.Second)
	s.Require().NoError(err)
}

func (s *HTTPClientContractSuite) TestListAll() {
	records, err := s.client.ListAll(context.Background())
	s.Require().NoError(err)
	s.Equal([]models.TaxpayerRecord{ann}, records)
}

func (s *HTTPClientContractSuite) TestSearchByID() {
	ctx := context.Background()

	s.Run("match", func() {
		records, err := s.client.SearchByID(ctx, "t1")
		s.Require().NoError(err)
		s.Equal([]models.TaxpayerRecord{ann}, records)
	})

	s.Run("no match is empty, not nil", func() {
		records, err := s.client.SearchByID(ctx, "T9")
		s.Require().NoError(err)
		s.NotNil(records)
		s.Empty(records)
	})

	s.Run("empty term is forwarded", func() {
		records, err := s.client.SearchByID(ctx, "")
		s.Require().NoError(err)
		s.Len(records, 1)
	})
}

func (s *HTTPClientContractSuite) TestCreate() {
	ctx := context.Background()
	bo := models.TaxpayerRecord{Identifier: "T2", FirstName: "Bo", LastName: "Ng", Address: "2 St"}

	s.Require().NoError(s.client.Create(ctx, bo))

	records, err := s.client.ListAll(ctx)
	s.Require().NoError(err)
	s.Equal([]models.TaxpayerRecord{ann, bo}, records)

	err = s.client.Create(ctx, bo)
	s.Require().Error(err)
	s.True(recordstore.IsRejected(err))
	s.Contains(err.Error(), "already exists")
}

// =============================================================================
// Error classification
// =============================================================================

func TestHTTPClientClassifiesResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   recordstore.ErrorKind
	}{
		{"conflict", http.StatusConflict, `{"error":"conflict","error_description":"taxpayer T1 already exists"}`, recordstore.KindValidationRejected},
		{"unprocessable", http.StatusUnprocessableEntity, `{"error":"validation_error"}`, recordstore.KindValidationRejected},
		{"bad request", http.StatusBadRequest, ``, recordstore.KindValidationRejected},
		{"server error", http.StatusInternalServerError, `{"error":"internal_error"}`, recordstore.KindStoreUnavailable},
		{"unavailable", http.StatusServiceUnavailable, ``, recordstore.KindStoreUnavailable},
		{"not found", http.StatusNotFound, ``, recordstore.KindStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := recordstore.NewHTTPClient(srv.URL, time.Second)
			require.NoError(t, err)

			err = client.Create(context.Background(), ann)
			require.Error(t, err)
			assert.Equal(t, tt.kind, recordstore.KindOf(err))

			var se *recordstore.StoreError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, recordstore.OpCreate, se.Op)
			assert.NotEmpty(t, se.Message)
		})
	}
}

func TestHTTPClientMalformedPayloadIsUnavailable(t *testing.T) {
	tests := map[string]string{
		"not json":       `{oops`,
		"missing fields": `[{"identifier":"T1","firstName":"Ann"}]`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			client, err := recordstore.NewHTTPClient(srv.URL, time.Second)
			require.NoError(t, err)

			_, err = client.ListAll(context.Background())
			assert.True(t, recordstore.IsUnavailable(err))
		})
	}
}

func TestHTTPClientTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := recordstore.NewHTTPClient(url, time.Second)
	require.NoError(t, err)

	_, err = client.SearchByID(context.Background(), "T1")
	require.Error(t, err)
	assert.True(t, recordstore.IsUnavailable(err))
}

func TestHTTPClientTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := recordstore.NewHTTPClient(srv.URL, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = client.ListAll(context.Background())
	assert.True(t, recordstore.IsUnavailable(err))
}

func TestNewHTTPClientRejectsRelativeURL(t *testing.T) {
	_, err := recordstore.NewHTTPClient("localhost:8081", time.Second)
	assert.Error(t, err)
}

// =============================================================================
// Breaker, request IDs, metrics
// =============================================================================

func TestHTTPClientFailsFastWhileCircuitOpen(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	breaker := circuit.New("recordstore", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	client, err := recordstore.NewHTTPClient(srv.URL, time.Second,
		recordstore.WithBreaker(breaker),
		recordstore.WithMetrics(m),
	)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := client.ListAll(ctx)
		require.True(t, recordstore.IsUnavailable(err))
	}
	assert.True(t, breaker.IsOpen())
	assert.Equal(t, 1.0, promtest.ToFloat64(m.BreakerOpen))

	_, err = client.ListAll(ctx)
	require.True(t, recordstore.IsUnavailable(err))
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, int32(2), hits.Load(), "open circuit must not reach the network")
	assert.Equal(t, 1, promtest.CollectAndCount(m.CallDuration, "taxdesk_recordstore_call_duration_seconds"))
}

func TestHTTPClientRejectionDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	breaker := circuit.New("recordstore", circuit.WithFailureThreshold(1))
	client, err := recordstore.NewHTTPClient(srv.URL, time.Second, recordstore.WithBreaker(breaker))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err := client.Create(context.Background(), ann)
		require.True(t, recordstore.IsRejected(err))
	}
	assert.False(t, breaker.IsOpen())
}

func TestHTTPClientPropagatesRequestID(t *testing.T) {
	seen := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get(middleware.RequestIDHeader)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client, err := recordstore.NewHTTPClient(srv.URL, time.Second)
	require.NoError(t, err)

	ctx := requestcontext.WithRequestID(context.Background(), "req-123")
	_, err = client.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-123", <-seen)

	_, err = client.ListAll(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, <-seen, "a request ID is generated when the context has none")
}
