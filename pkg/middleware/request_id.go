package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gradebook/records-api/pkg/requestid"
)

const requestIDHeader = "x-request-id"

// RequestID takes the request id from the x-request-id header, falls back to
// the one chi generated, and otherwise generates one. The id is stored with
// the requestid package and echoed back on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = middleware.GetReqID(r.Context())
		}
		if requestID == "" {
			requestID = requestid.Generate()
		}

		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(requestid.ToContext(r.Context(), requestID)))
	})
}
