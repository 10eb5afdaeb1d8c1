package anamnesis

import "context"

type requestIDKey struct{}

// WithRequestID tags ctx with the id of the request that caused the work, so
// queue messages and worker logs can be joined back to it. An empty id
// leaves ctx unchanged.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
