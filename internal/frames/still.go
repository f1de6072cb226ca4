package frames

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	// DefaultStillMaxDim bounds the longer side of a still, in pixels.
	DefaultStillMaxDim = 768
	// DefaultStillQuality is the JPEG quality of a still.
	DefaultStillQuality = 75
)

// EncodeStill decodes a JPEG frame, scales it down so neither side exceeds
// maxDim, and re-encodes it at the given quality. Frames already within
// bounds are only re-encoded.
func EncodeStill(data []byte, maxDim, quality int) ([]byte, error) {
	if maxDim <= 0 {
		maxDim = DefaultStillMaxDim
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultStillQuality
	}

	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	img := src
	b := src.Bounds()
	if w, h := b.Dx(), b.Dy(); w > maxDim || h > maxDim {
		nw, nh := maxDim, maxDim
		if w >= h {
			nh = max(1, h*maxDim/w)
		} else {
			nw = max(1, w*maxDim/h)
		}
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding still: %w", err)
	}
	return buf.Bytes(), nil
}
