// Package daemon hosts corral's long-running process: the export worker
// pool, the idle-identity janitor, and the bearer-authenticated HTTP API.
// A file lock keeps the daemon single-instance per database.
package daemon
