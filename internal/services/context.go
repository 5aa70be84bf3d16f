package services

import "context"

type contextKey string

const (
	cameraIDKey  contextKey = "camera_id"
	jobIDKey     contextKey = "job_id"
	workerIDKey  contextKey = "worker_id"
	requestIDKey contextKey = "request_id"
)

// WithCameraID annotates context with the camera identifier driving an ingest worker.
func WithCameraID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, cameraIDKey, id)
}

// CameraIDFromContext extracts the camera identifier if present.
func CameraIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(cameraIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobID annotates context with the export job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the export job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithWorkerID annotates context with the claiming worker's identifier.
func WithWorkerID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, workerIDKey, id)
}

// WorkerIDFromContext extracts the worker identifier if present.
func WorkerIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(workerIDKey).(string); ok && v != "" {
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
