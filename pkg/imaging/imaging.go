// Package imaging handles the image plumbing around the adapter: decoding
// base64 payloads from benchmark files into an on-disk cache and padding
// images to the square canvas vision encoders are trained on.
package imaging

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
)

// DecodeBase64ToFile decodes a base64-encoded image and writes it to path,
// creating parent directories as needed.
func DecodeBase64ToFile(encoded, path string) error {
	// Benchmark files occasionally carry data URL prefixes and embedded
	// newlines; strip both before decoding.
	if idx := strings.Index(encoded, ","); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}
	encoded = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ':
			return -1
		}
		return r
	}, encoded)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return fmt.Errorf("decode base64 image: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write image file: %w", err)
	}
	return nil
}

// ReadOK reports whether path holds a readable, decodable image. It is the
// existence check guarding repeated cache writes.
func ReadOK(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()
	_, _, err = image.DecodeConfig(file)
	return err == nil
}

// Load opens and decodes the image at path.
func Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}

// ExpandToSquare pads img to a square canvas filled with the given color,
// centering the original and preserving its aspect ratio. The result is
// always an RGBA image, which also normalizes grayscale and paletted inputs
// to a 3-channel color representation.
func ExpandToSquare(img image.Image, fill color.Color) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	side := width
	if height > side {
		side = height
	}

	canvas := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)

	offset := image.Pt((side-width)/2, (side-height)/2)
	draw.Draw(canvas, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(width, height))}, img, bounds.Min, draw.Over)
	return canvas
}

// MeanFillColor converts a per-channel 0-1 normalization mean into the
// 0-255 fill color used for square padding.
func MeanFillColor(mean [3]float32) color.Color {
	return color.RGBA{
		R: uint8(mean[0] * 255),
		G: uint8(mean[1] * 255),
		B: uint8(mean[2] * 255),
		A: 255,
	}
}
