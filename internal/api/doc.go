// Package api exposes corral's operations as context-aware workflow
// functions plus the transport DTOs the HTTP layer and CLI render. It
// translates store and queue models into camelCase JSON views so consumers
// never couple to internal types.
package api
