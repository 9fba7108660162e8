package llm

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// testPNG encodes a solid-ish image of the given size.
func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x += 50 {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestStripDataURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare base64", "aGVsbG8=", "aGVsbG8="},
		{"png data url", "data:image/png;base64,aGVsbG8=", "aGVsbG8="},
		{"jpeg data url", "data:image/jpeg;base64,aGVsbG8=", "aGVsbG8="},
		{"surrounding whitespace", "  data:image/png;base64,aGVsbG8=\n", "aGVsbG8="},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripDataURL(tt.in); got != tt.want {
				t.Errorf("StripDataURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEnsureDataURL(t *testing.T) {
	want := "data:image/png;base64,aGVsbG8="
	if got := EnsureDataURL("aGVsbG8="); got != want {
		t.Errorf("bare input: got %q", got)
	}
	if got := EnsureDataURL(want); got != want {
		t.Errorf("already prefixed: got %q", got)
	}
	// A stray jpeg prefix is rewritten to the canonical png form.
	if got := EnsureDataURL("data:image/jpeg;base64,aGVsbG8="); got != want {
		t.Errorf("jpeg prefix: got %q", got)
	}
}

func TestNormalizeScreenshot_DownscalesOversized(t *testing.T) {
	data := testPNG(t, 2400, 1200)

	out, resized := NormalizeScreenshot(data, 1200)
	if !resized {
		t.Fatal("oversized frame not resized")
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if w := img.Bounds().Dx(); w != 1200 {
		t.Errorf("width = %d, want 1200", w)
	}
	if h := img.Bounds().Dy(); h != 600 {
		t.Errorf("height = %d, want 600 (aspect preserved)", h)
	}
}

func TestNormalizeScreenshot_SmallFramePassesThrough(t *testing.T) {
	data := testPNG(t, 100, 50)
	out, resized := NormalizeScreenshot(data, 2000)
	if resized {
		t.Error("small frame reported as resized")
	}
	if !bytes.Equal(out, data) {
		t.Error("small frame bytes changed")
	}
}

func TestNormalizeScreenshot_BadDataPassesThrough(t *testing.T) {
	data := []byte("definitely not a png")
	out, resized := NormalizeScreenshot(data, 2000)
	if resized {
		t.Error("garbage reported as resized")
	}
	if !bytes.Equal(out, data) {
		t.Error("garbage bytes changed")
	}
}

func TestPrepareScreenshot_StripsPrefixOnly(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(testPNG(t, 120, 80))
	if got := PrepareScreenshot("data:image/png;base64," + b64); got != b64 {
		t.Errorf("small frame rewritten: len(got)=%d len(want)=%d", len(got), len(b64))
	}
}

func TestPrepareScreenshot_DownscalesOversized(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(testPNG(t, DefaultMaxSide+600, 100))

	got := PrepareScreenshot(b64)
	if got == b64 {
		t.Fatal("oversized frame not rewritten")
	}

	data, err := base64.StdEncoding.DecodeString(got)
	if err != nil {
		t.Fatalf("output is not base64: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not an image: %v", err)
	}
	if w := img.Bounds().Dx(); w != DefaultMaxSide {
		t.Errorf("width = %d, want %d", w, DefaultMaxSide)
	}
}

func TestPrepareScreenshot_InvalidBase64PassesThrough(t *testing.T) {
	if got := PrepareScreenshot("not-base64!!"); got != "not-base64!!" {
		t.Errorf("got %q", got)
	}
}
