package imageprocessing

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"

	"golang.org/x/image/draw"
)

const downscaleJPEGQuality = 85

// fitWithin returns the largest size with the original aspect ratio that
// fits inside maxWidth x maxHeight. A non-positive bound leaves that axis free.
func fitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}
	scale := 1.0
	if maxWidth > 0 && width > maxWidth {
		scale = float64(maxWidth) / float64(width)
	}
	if maxHeight > 0 && float64(height)*scale > float64(maxHeight) {
		scale = float64(maxHeight) / float64(height)
	}
	if scale >= 1 {
		return width, height
	}

	scaledWidth := max(1, int(float64(width)*scale))
	scaledHeight := max(1, int(float64(height)*scale))
	return scaledWidth, scaledHeight
}

// downscale shrinks an oversized image to fit the configured bounds. JPEG
// input stays JPEG; every other format is written as PNG.
func downscale(data []byte, format string, opts Options) (*PreparedImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}

	bounds := img.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), opts.MaxWidth, opts.MaxHeight)
	target := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(target, target.Bounds(), img, bounds, draw.Src, nil)

	var buf bytes.Buffer
	prepared := &PreparedImage{Width: width, Height: height}
	if format == "jpeg" {
		err = jpeg.Encode(&buf, target, &jpeg.Options{Quality: downscaleJPEGQuality})
		prepared.Format, prepared.ContentType = "jpeg", "image/jpeg"
	} else {
		err = png.Encode(&buf, target)
		prepared.Format, prepared.ContentType = "png", "image/png"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode downscaled %s image: %w", prepared.Format, err)
	}
	prepared.Data = buf.Bytes()

	slog.Debug("imageprocessing: downscaled image",
		"original_width", bounds.Dx(),
		"original_height", bounds.Dy(),
		"scaled_width", width,
		"scaled_height", height,
		"output_size_bytes", buf.Len())
	return prepared, nil
}

func exceedsBounds(width, height int, opts Options) bool {
	return (opts.MaxWidth > 0 && width > opts.MaxWidth) || (opts.MaxHeight > 0 && height > opts.MaxHeight)
}
