package services

import "context"

type contextKey string

const (
	hashIDKey    contextKey = "hash_id"
	taskIDKey    contextKey = "task_id"
	requestIDKey contextKey = "request_id"
)

// WithHashID annotates context with the content bucket identifier.
func WithHashID(ctx context.Context, hashID string) context.Context {
	if hashID == "" {
		return ctx
	}
	return context.WithValue(ctx, hashIDKey, hashID)
}

// HashIDFromContext extracts the content bucket identifier if present.
func HashIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(hashIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTaskID annotates context with the task being executed.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	if taskID == "" {
		return ctx
	}
	return context.WithValue(ctx, taskIDKey, taskID)
}

// TaskIDFromContext returns the task id if present.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(taskIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
