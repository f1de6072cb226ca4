// Package media stores the encoded video payload of each clip.
//
// A clip is encoded as Motion JPEG: the JPEG frames written to a Sink are
// concatenated in arrival order.
package media

import (
	"errors"
	"io"
)

// ContentType is the MIME type of every payload produced by this package.
const ContentType = "video/x-motion-jpeg"

var (
	// ErrNotReady is returned by WriteFrame when the sink cannot accept a
	// frame without blocking.
	ErrNotReady = errors.New("media sink not ready")
	// ErrClosed is returned by writes to a closed sink.
	ErrClosed = errors.New("media sink closed")
	// ErrNotFound is returned when no payload exists for a reference.
	ErrNotFound = errors.New("media not found")
)

// Store allocates sinks for new clips and manages finished payloads.
type Store interface {
	// Create opens a sink for the clip with the given id.
	Create(id string) (Sink, error)
	// Open returns a reader over a finished payload.
	Open(ref string) (io.ReadCloser, error)
	// Delete removes a finished or partial payload.
	Delete(ref string) error
}

// Sink receives the frames of one clip. It is used by a single goroutine.
type Sink interface {
	// Ref is the opaque reference of the payload.
	Ref() string
	// Ready reports whether WriteFrame would accept a frame now.
	Ready() bool
	// WriteFrame appends one JPEG frame without blocking.
	WriteFrame(jpeg []byte) error
	// Close flushes pending frames and finishes the payload. It may block.
	Close() error
}
