package testutil

import (
	"net/http"

	"taxdesk/pkg/requestcontext"
)

// WithRequestID adds a request ID to the request context.
// This simulates what the RequestID middleware does for handlers tested
// without a router.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
