//go:build !integration

package imagecodec

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photo-restyler/internal/domain/ports/adapter"
)

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func withExif(jpg []byte) []byte {
	payload := append([]byte("Exif\x00\x00"), []byte("MM\x00\x2a")...)
	size := len(payload) + 2
	seg := append([]byte{0xFF, 0xE1, byte(size >> 8), byte(size)}, payload...)
	return insertAfterSOI(jpg, seg)
}

// withOrientation adds a big-endian EXIF segment whose IFD0 holds only the
// Orientation tag.
func withOrientation(jpg []byte, o uint16) []byte {
	tiff := []byte("MM\x00\x2a\x00\x00\x00\x08")
	// one entry: Orientation, SHORT, count 1, value o
	tiff = append(tiff, 0x00, 0x01)
	tiff = append(tiff, 0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01)
	tiff = append(tiff, byte(o>>8), byte(o), 0x00, 0x00)
	// no next IFD
	tiff = append(tiff, 0x00, 0x00, 0x00, 0x00)
	payload := append([]byte("Exif\x00\x00"), tiff...)
	size := len(payload) + 2
	seg := append([]byte{0xFF, 0xE1, byte(size >> 8), byte(size)}, payload...)
	return insertAfterSOI(jpg, seg)
}

func orientedBounds(t *testing.T, b []byte) image.Rectangle {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
	require.NoError(t, err)
	return img.Bounds()
}

func TestPrepareInput_ShrinksLongestEdge(t *testing.T) {
	c := New()
	out, mime, err := c.PrepareInput(encodeJPEG(t, solid(400, 200)), 100)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	out, mime, err = c.PrepareInput(encodePNG(t, solid(20, 10)), 100)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	cfg, _, err = image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Width)

	_, _, err = c.PrepareInput([]byte("not an image"), 100)
	assert.Error(t, err)
}

func TestFinalize_FormatPolicy(t *testing.T) {
	c := New()
	gen := encodePNG(t, solid(8, 8))

	_, ext, err := c.Finalize(gen, encodeJPEG(t, solid(8, 8)), adapter.OutputPolicy{Format: "keep", StripMetadata: true})
	require.NoError(t, err)
	assert.Equal(t, ".jpg", ext)

	_, ext, err = c.Finalize(gen, encodePNG(t, solid(8, 8)), adapter.OutputPolicy{Format: "keep"})
	require.NoError(t, err)
	assert.Equal(t, ".png", ext)

	_, ext, err = c.Finalize(gen, nil, adapter.OutputPolicy{Format: "png"})
	require.NoError(t, err)
	assert.Equal(t, ".png", ext)

	_, _, err = c.Finalize(gen, nil, adapter.OutputPolicy{Format: "gif"})
	assert.Error(t, err)
}

func TestFinalize_ExifCarriedOnlyWhenNotStripping(t *testing.T) {
	c := New()
	gen := encodePNG(t, solid(8, 8))
	orig := withExif(encodeJPEG(t, solid(8, 8)))
	require.NotNil(t, exifSegment(orig))

	kept, _, err := c.Finalize(gen, orig, adapter.OutputPolicy{Format: "jpeg", StripMetadata: false})
	require.NoError(t, err)
	assert.NotNil(t, exifSegment(kept))
	_, err = jpeg.Decode(bytes.NewReader(kept))
	require.NoError(t, err)

	stripped, _, err := c.Finalize(gen, orig, adapter.OutputPolicy{Format: "jpeg", StripMetadata: true})
	require.NoError(t, err)
	assert.Nil(t, exifSegment(stripped))
}

func TestFinalize_CarriedExifDoesNotRotateAgain(t *testing.T) {
	c := New()
	orig := withOrientation(encodeJPEG(t, solid(40, 20)), 6)
	require.Equal(t, 20, orientedBounds(t, orig).Dx())

	prepared, _, err := c.PrepareInput(orig, 0)
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(prepared))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Width)
	assert.Equal(t, 40, cfg.Height)

	out, _, err := c.Finalize(prepared, orig, adapter.OutputPolicy{Format: "jpeg", StripMetadata: false})
	require.NoError(t, err)
	require.NotNil(t, exifSegment(out))
	b := orientedBounds(t, out)
	assert.Equal(t, 20, b.Dx())
	assert.Equal(t, 40, b.Dy())
}

func TestUprightExif_LeavesUnparsableSegment(t *testing.T) {
	seg := exifSegment(withExif(encodeJPEG(t, solid(4, 4))))
	require.NotNil(t, seg)
	assert.Equal(t, seg, uprightExif(seg))
}
