// Package jobs is the durable export queue: submission with dedupe, atomic
// lease-based claims, cooperative cancellation, and the worker loop that
// plans and renders claimed jobs. State lives in the shared corral database;
// any number of workers can race over it safely.
package jobs
