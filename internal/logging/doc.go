// Package logging wraps log/slog with the handlers and attribute helpers the
// rest of corral uses.
//
// Two output formats exist: a console handler that renders
// "TIME LEVEL component: message key=value" lines for interactive use, and a
// JSON handler for log shipping. Standardized field keys (camera_id, job_id,
// identity_id, ...) keep queries consistent across components, and
// WithContext lifts correlation fields out of a context so call sites do not
// repeat them.
package logging
