// Package render shells out to ffmpeg to turn an export manifest into video
// files. The Client interface keeps the worker testable without the binary
// installed.
package render
