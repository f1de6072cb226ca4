// Package frames defines camera frames and the on-device analysis boundary.
package frames

import (
	"context"
	"time"
)

// Frame is one JPEG-encoded camera frame and the time it was captured.
type Frame struct {
	Data []byte
	Time time.Time
}

// Analyzer derives keywords and stills from frames. Implementations must be
// safe to call from the ingestion goroutine while other goroutines run.
type Analyzer interface {
	// Classify returns the labels detected in the frame.
	Classify(ctx context.Context, f Frame) ([]string, error)
	// RecognizeText returns lines of text visible in the frame.
	RecognizeText(ctx context.Context, f Frame) ([]string, error)
	// ToStill renders the frame as a compressed still image.
	ToStill(f Frame) ([]byte, error)
}

// NopAnalyzer detects nothing and passes frames through as stills.
type NopAnalyzer struct{}

func (NopAnalyzer) Classify(context.Context, Frame) ([]string, error)      { return nil, nil }
func (NopAnalyzer) RecognizeText(context.Context, Frame) ([]string, error) { return nil, nil }
func (NopAnalyzer) ToStill(f Frame) ([]byte, error)                        { return f.Data, nil }
