package imageutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder

	"golang.org/x/image/draw"

	"synthv/pkg/model"
)

const (
	maxWidth    = 1920
	maxHeight   = 1080
	jpegQuality = 85
)

var (
	// ErrTooLarge is returned when the upload exceeds the size limit.
	ErrTooLarge = errors.New("reference image too large")
	// ErrUnsupported is returned for anything but PNG, JPEG or GIF.
	ErrUnsupported = errors.New("unsupported reference image format")
)

var formatMIME = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
}

// PrepareReference validates an uploaded reference image and makes it fit for submission.
// PNG and JPEG within 1920x1080 pass through untouched; everything else is
// scaled to fit and re-encoded as JPEG. maxSize <= 0 disables the size check.
func PrepareReference(data []byte, maxSize int64) (*model.Image, error) {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), maxSize)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	mime, ok := formatMIME[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, format)
	}

	if format != "gif" && cfg.Width <= maxWidth && cfg.Height <= maxHeight {
		return &model.Image{Data: data, MIMEType: mime}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	scaled := scaleToFit(src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	return &model.Image{Data: buf.Bytes(), MIMEType: "image/jpeg"}, nil
}

// scaleToFit scales the image to fit within maxWidth x maxHeight, preserving aspect ratio.
// Does not upscale. Transparent pixels are flattened onto white.
func scaleToFit(img image.Image) image.Image {
	b := img.Bounds()
	w := b.Dx()
	h := b.Dy()

	ratio := 1.0
	if w > maxWidth || h > maxHeight {
		ratio = float64(maxWidth) / float64(w)
		if rh := float64(maxHeight) / float64(h); rh < ratio {
			ratio = rh
		}
	}

	newW := max(int(float64(w)*ratio), 1)
	newH := max(int(float64(h)*ratio), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
