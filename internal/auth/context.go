package auth

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// serviceContextKey is the context key for the verified caller service.
	serviceContextKey contextKey = "service_id"
)

// ContextWithService records the service id accepted by the request verifier.
func ContextWithService(ctx context.Context, serviceID string) context.Context {
	return context.WithValue(ctx, serviceContextKey, serviceID)
}

// ServiceFromContext returns the verified caller service id.
// Returns empty string if the request was not verified.
func ServiceFromContext(ctx context.Context) string {
	id, ok := ctx.Value(serviceContextKey).(string)
	if !ok {
		return ""
	}
	return id
}

// MustServiceFromContext returns the verified caller service id.
// Panics if not present (use only behind the service auth middleware).
func MustServiceFromContext(ctx context.Context) string {
	id := ServiceFromContext(ctx)
	if id == "" {
		panic("service identity not found - ensure service auth middleware is applied")
	}
	return id
}
