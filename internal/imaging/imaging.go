package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

const DefaultThumbnailSize = 300

// MimeType reports the mime type of the encoded image, derived from its decoded format
func MimeType(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to detect image format: %w", err)
	}
	return "image/" + format, nil
}

// Dimensions returns the width and height of the encoded image
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// ThumbnailBounds computes the aspect-preserving size that fits within maxW x maxH.
// Images smaller than the box keep their size.
func ThumbnailBounds(width, height, maxW, maxH int) (int, int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	aspect := float64(width) / float64(height)
	var w, h int
	if width > height {
		w = min(width, maxW)
		h = int(float64(w) / aspect)
	} else {
		h = min(height, maxH)
		w = int(float64(h) * aspect)
	}
	return max(w, 1), max(h, 1)
}

// Thumbnail decodes data and re-encodes a reduced copy. JPEG sources stay JPEG
// (quality 90), everything else is written as PNG.
func Thumbnail(data []byte, maxW, maxH int) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	w, h := ThumbnailBounds(b.Dx(), b.Dy(), maxW, maxH)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if format == "jpeg" {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90})
	} else {
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// Base64 encodes data with standard padding
func Base64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// ValidExtension reports whether filename ends in one of the allowed extensions, ignoring case
func ValidExtension(filename string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return true
		}
	}
	return false
}
