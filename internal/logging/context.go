package logging

import (
	"context"
	"log/slog"

	"corral/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldCameraID is the standardized structured logging key for camera identifiers.
	FieldCameraID = "camera_id"
	// FieldTrackletID is the standardized structured logging key for tracklet identifiers.
	FieldTrackletID = "tracklet_id"
	// FieldIdentityID is the standardized structured logging key for global identity identifiers.
	FieldIdentityID = "identity_id"
	// FieldJobID is the standardized structured logging key for export job identifiers.
	FieldJobID = "job_id"
	// FieldWorkerID is the standardized structured logging key for job worker identifiers.
	FieldWorkerID = "worker_id"
	// FieldStrategy is the standardized structured logging key for resolver strategy names.
	FieldStrategy = "strategy"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.CameraIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCameraID, id))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if id, ok := services.WorkerIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorkerID, id))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
