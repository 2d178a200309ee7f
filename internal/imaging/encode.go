package imaging

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/chai2010/webp"
)

// Format is the closed set of output containers. The request string is
// resolved to a Format once at the boundary; unrecognized values fall
// back to PNG.
type Format int

const (
	FormatPNG Format = iota
	FormatJPEG
	FormatWEBP
)

// ParseFormat maps a request format string to a Format.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return FormatJPEG
	case "webp":
		return FormatWEBP
	default:
		return FormatPNG
	}
}

// ContentType returns the MIME type for HTTP responses.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Extension returns the canonical file extension without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatWEBP:
		return "webp"
	default:
		return "png"
	}
}

func (f Format) String() string { return f.Extension() }

// Encode writes img to w in the given container. quality applies to the
// lossy formats only.
func (f Format) Encode(w io.Writer, img image.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	switch f {
	case FormatJPEG:
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatWEBP:
		if err := webp.Encode(w, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return fmt.Errorf("encode webp: %w", err)
		}
	default:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
	}
	return nil
}
