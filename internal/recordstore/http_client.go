package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taxdesk/internal/recordstore/metrics"
	"taxdesk/internal/taxpayer/models"
	"taxdesk/pkg/platform/circuit"
	"taxdesk/pkg/requestcontext"
)

const (
	requestIDHeader = "X-Request-ID"
	maxResponseBody = 4 << 20
	tracerName      = "taxdesk/recordstore"
)

// HTTPClient calls a remote record store over HTTP/JSON:
//
//	GET  /taxpayers         list-all
//	POST /taxpayers/search  search-by-id, body {"term": "..."}
//	POST /taxpayers         create
//
// Each call is attempted at most once. While the circuit breaker is open the
// client fails fast with KindStoreUnavailable without touching the network.
type HTTPClient struct {
	baseURL        *url.URL
	http           *http.Client
	breaker        *circuit.Breaker
	metrics        *metrics.Metrics
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	logger         *slog.Logger
}

type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client, timeout and transport
// included.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		h.http = c
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(h *HTTPClient) {
		h.breaker = b
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *HTTPClient) {
		h.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *HTTPClient) {
		h.logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *HTTPClient) {
		h.tracerProvider = tp
	}
}

// NewHTTPClient builds a client for the store at baseURL. timeout bounds each
// call end to end.
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse record store URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("record store URL %q must be absolute", baseURL)
	}
	c := &HTTPClient{
		baseURL: u,
		breaker: circuit.New("recordstore"),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	c.tracer = c.tracerProvider.Tracer(tracerName)
	if c.http == nil {
		c.http = &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(c.tracerProvider),
			),
		}
	}
	return c, nil
}

type searchRequest struct {
	Term string `json:"term"`
}

type errorEnvelope struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *HTTPClient) ListAll(ctx context.Context) ([]models.TaxpayerRecord, error) {
	var records []models.TaxpayerRecord
	if err := c.do(ctx, OpListAll, http.MethodGet, "/taxpayers", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *HTTPClient) SearchByID(ctx context.Context, term string) ([]models.TaxpayerRecord, error) {
	var records []models.TaxpayerRecord
	if err := c.do(ctx, OpSearchByID, http.MethodPost, "/taxpayers/search", searchRequest{Term: term}, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *HTTPClient) Create(ctx context.Context, record models.TaxpayerRecord) error {
	if err := c.do(ctx, OpCreate, http.MethodPost, "/taxpayers", record, nil); err != nil {
		return err
	}
	return nil
}

// do performs one request. A nil out means the response body is ignored.
// Returned errors are always *StoreError.
func (c *HTTPClient) do(ctx context.Context, op Op, method, path string, body any, out *[]models.TaxpayerRecord) (err error) {
	ctx, span := c.tracer.Start(ctx, "recordstore."+string(op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("recordstore.op", string(op)),
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	start := time.Now()
	defer func() {
		c.observe(op, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !c.breaker.Allow() {
		return Unavailable(op, "record store circuit open", circuit.ErrOpen)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return Unavailable(op, "build request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure(ctx, op)
		return Normalize(op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.recordFailure(ctx, op)
		return Unavailable(op, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := classifyStatus(op, resp.StatusCode, payload)
		if se.Kind == KindStoreUnavailable {
			c.recordFailure(ctx, op)
		} else {
			c.recordSuccess(ctx)
		}
		return se
	}

	if out != nil {
		if err := decodeRecords(payload, out); err != nil {
			c.recordFailure(ctx, op)
			return Unavailable(op, "malformed record store response", err)
		}
	}
	c.recordSuccess(ctx)
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := requestcontext.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set(requestIDHeader, requestID)
	return req, nil
}

// classifyStatus maps a non-2xx response onto the error taxonomy. 400, 409
// and 422 are store-side rejections of the payload; everything else means the
// store could not serve the call.
func classifyStatus(op Op, status int, payload []byte) *StoreError {
	var env errorEnvelope
	_ = json.Unmarshal(payload, &env)
	message := env.ErrorDescription
	if message == "" {
		message = env.Error
	}
	if message == "" {
		message = http.StatusText(status)
	}
	cause := fmt.Errorf("status %d", status)
	switch status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return Rejected(op, message, cause)
	default:
		return Unavailable(op, message, cause)
	}
}

// decodeRecords decodes a JSON array of records. Every field of every record
// is required; a record missing one is treated as a malformed response.
func decodeRecords(payload []byte, out *[]models.TaxpayerRecord) error {
	var records []models.TaxpayerRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return err
	}
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	if records == nil {
		records = []models.TaxpayerRecord{}
	}
	*out = records
	return nil
}

func (c *HTTPClient) recordFailure(ctx context.Context, op Op) {
	open, change := c.breaker.RecordFailure()
	if change.Opened {
		c.logger.WarnContext(ctx, "record store circuit opened",
			"op", string(op),
			"breaker", c.breaker.Name(),
		)
	}
	if c.metrics != nil {
		c.metrics.SetBreakerOpen(open)
	}
}

func (c *HTTPClient) recordSuccess(ctx context.Context) {
	closed, change := c.breaker.RecordSuccess()
	if change.Closed {
		c.logger.InfoContext(ctx, "record store circuit closed",
			"breaker", c.breaker.Name(),
		)
	}
	if c.metrics != nil {
		c.metrics.SetBreakerOpen(!closed)
	}
}

func (c *HTTPClient) observe(op Op, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	c.metrics.ObserveCall(string(op), outcome, time.Since(start).Seconds())
}
