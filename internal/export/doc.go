// Package export turns an identity's observation timeline into a concrete
// cut list. Planning is a pure function over in-memory input so the same
// request always produces the same manifest, which is what a retried render
// job replays.
package export
