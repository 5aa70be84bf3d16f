// Package services holds the cross-cutting error taxonomy and context
// annotations shared by every corral component. Sentinel errors classify
// failures for the job coordinator's retry decisions; context helpers carry
// camera, job, and worker identifiers into structured logs.
package services
