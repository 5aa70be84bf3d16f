// Package tracking ingests per-camera detection streams into tracklets and
// observations, handing each new track to the identity resolver.
package tracking
