// Package imageio decodes uploaded image bytes into an immutable RGB raster.
package imageio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
)

// DefaultMaxPixels bounds the decoded raster size
const DefaultMaxPixels = 40_000_000

// ErrDecodeFailure is returned when bytes cannot be interpreted as an image
var ErrDecodeFailure = errors.New("image decode failure")

// Image is a decoded RGB raster together with the bytes used to ship it to
// inference backends. It is never mutated after construction.
type Image struct {
	raster *image.RGBA
	data   []byte
	mime   string
}

// Decode parses JPEG, PNG or GIF bytes. Alpha is flattened away.
func Decode(data []byte) (*Image, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel budget
func DecodeLimit(data []byte, maxPixels int) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecodeFailure)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecodeFailure, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecodeFailure, cfg.Width, cfg.Height, maxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}

	img := &Image{raster: toRGB(src)}
	switch format {
	case "jpeg":
		img.data, img.mime = data, "image/jpeg"
	case "png":
		img.data, img.mime = data, "image/png"
	default:
		// backends only accept jpeg and png
		if err := img.encodePNG(); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// FromRaster wraps an in-memory image
func FromRaster(src image.Image) (*Image, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty raster", ErrDecodeFailure)
	}
	img := &Image{raster: toRGB(src)}
	if err := img.encodePNG(); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *Image) encodePNG() error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.raster); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	img.data, img.mime = buf.Bytes(), "image/png"
	return nil
}

// toRGB copies src onto an opaque white canvas
func toRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// Width returns the raster width in pixels
func (img *Image) Width() int {
	return img.raster.Bounds().Dx()
}

// Height returns the raster height in pixels
func (img *Image) Height() int {
	return img.raster.Bounds().Dy()
}

// Bytes returns a copy of the transport encoding
func (img *Image) Bytes() []byte {
	out := make([]byte, len(img.data))
	copy(out, img.data)
	return out
}

// Base64 returns the transport encoding as standard base64
func (img *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.data)
}

// DataURL returns the image as a data: URL
func (img *Image) DataURL() string {
	return "data:" + img.mime + ";base64," + img.Base64()
}
