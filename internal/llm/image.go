package llm

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
)

// dataURLPrefix is the exact prefix of every outbound screenshot URL.
const dataURLPrefix = "data:image/png;base64,"

// DefaultMaxSide bounds the longer screenshot side sent to the models.
const DefaultMaxSide = 2000

// StripDataURL returns the bare base64 body of a screenshot that may carry
// a data:image/...;base64, prefix.
func StripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:image/") {
		return s
	}
	if i := strings.Index(s, "base64,"); i >= 0 {
		return s[i+len("base64,"):]
	}
	return s
}

// EnsureDataURL canonicalizes a screenshot to the PNG data-URL form,
// regardless of whether the input already carried a prefix.
func EnsureDataURL(s string) string {
	return dataURLPrefix + StripDataURL(s)
}

// PrepareScreenshot canonicalizes an incoming screenshot (bare base64 or a
// data URL) to bare base64, downscaling frames whose longer side exceeds
// DefaultMaxSide. Inputs that do not decode pass through untouched so a
// malformed frame fails at the model, not here.
func PrepareScreenshot(s string) string {
	raw := StripDataURL(s)
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return raw
	}
	out, resized := NormalizeScreenshot(data, DefaultMaxSide)
	if !resized {
		return raw
	}
	return base64.StdEncoding.EncodeToString(out)
}

// NormalizeScreenshot downscales a PNG whose longer side exceeds maxSide,
// preserving aspect ratio. The bool reports whether the image was
// rewritten; undecodable input is returned as-is.
func NormalizeScreenshot(data []byte, maxSide int) ([]byte, bool) {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, false
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= maxSide && height <= maxSide {
		return data, false
	}

	newWidth, newHeight := width, height
	if width > height {
		newWidth = maxSide
		newHeight = int(float64(height) * float64(maxSide) / float64(width))
	} else {
		newHeight = maxSide
		newWidth = int(float64(width) * float64(maxSide) / float64(height))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return data, false
	}
	return buf.Bytes(), true
}
