package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

func Generate() string {
	return uuid.NewString()
}

func ToContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// FromContext returns an empty string when the context carries no id.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// Detach copies the request id into a fresh background context. Queue
// publishes that outlive the request use it to keep log correlation.
func Detach(ctx context.Context) context.Context {
	id := FromContext(ctx)
	if id == "" {
		return context.Background()
	}
	return ToContext(context.Background(), id)
}

func FromRequest(r *http.Request) string {
	return FromContext(r.Context())
}
