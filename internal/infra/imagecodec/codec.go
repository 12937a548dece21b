// Package imagecodec adapts github.com/disintegration/imaging to the
// adapter.ImageCodec port.
package imagecodec

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/ports/adapter"
)

var _ adapter.ImageCodec = (*Codec)(nil)

const inputJPEGQuality = 90

type Codec struct{}

func New() *Codec { return &Codec{} }

// PrepareInput honours EXIF orientation, shrinks the longest edge to maxEdge
// and re-encodes. PNG stays PNG to keep transparency; everything else
// becomes JPEG.
func (c *Codec) PrepareInput(src []byte, maxEdge int) ([]byte, string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, "", fmt.Errorf("%w: unsupported image: %v", domain.ErrInvalidArgument, err)
	}
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode input: %w", err)
	}
	if maxEdge > 0 {
		b := img.Bounds()
		if b.Dx() > maxEdge || b.Dy() > maxEdge {
			img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if format == "png" {
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	}
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(inputJPEGQuality)); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}

// Finalize re-encodes a generated image per policy. With StripMetadata off
// and both sides JPEG, the original's EXIF segment is carried over with its
// Orientation reset to 1.
func (c *Codec) Finalize(generated, original []byte, policy adapter.OutputPolicy) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(generated))
	if err != nil {
		return nil, "", fmt.Errorf("decode generated image: %w", err)
	}

	target := strings.ToLower(policy.Format)
	if target == "" || target == "keep" {
		target = "jpeg"
		if len(original) > 0 {
			if _, f, err := image.DecodeConfig(bytes.NewReader(original)); err == nil && f == "png" {
				target = "png"
			}
		}
	}

	var buf bytes.Buffer
	switch target {
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), ".png", nil
	case "jpeg", "jpg":
		q := policy.Quality
		if q <= 0 || q > 100 {
			q = 92
		}
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
			return nil, "", err
		}
		out := buf.Bytes()
		if !policy.StripMetadata && len(original) > 0 {
			if seg := exifSegment(original); seg != nil {
				out = insertAfterSOI(out, uprightExif(seg))
			}
		}
		return out, ".jpg", nil
	default:
		return nil, "", fmt.Errorf("%w: output format %q", domain.ErrInvalidArgument, policy.Format)
	}
}
