package imageprocessing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"strings"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	defaultSVGWidth  = 1024
	defaultSVGHeight = 1024
)

// ErrEmptyImage is returned for zero-length input.
var ErrEmptyImage = errors.New("image data is empty")

// ErrMalformedImage is returned when the bytes are neither a decodable raster image nor SVG.
var ErrMalformedImage = errors.New("image data is not a supported image")

// Options tunes Prepare. Zero values select defaults.
type Options struct {
	SVGFallbackWidth  int
	SVGFallbackHeight int
	// MaxWidth and MaxHeight bound raster images; larger ones are downscaled
	// with their aspect ratio kept.
	MaxWidth  int
	MaxHeight int
}

// PreparedImage is an upload-ready image.
type PreparedImage struct {
	Data        []byte
	Format      string
	ContentType string
	Width       int
	Height      int
}

// Prepare validates image bytes before they are handed to an object store.
// Browser-displayable raster formats within the size bounds are passed
// through untouched; BMP and TIFF are re-encoded as PNG and SVG documents are
// rasterised to PNG.
func Prepare(data []byte, opts Options) (*PreparedImage, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	if isSVGData(data) {
		return prepareSVG(data, opts)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		slog.Debug("imageprocessing: failed to decode image header", "error", err, "input_size_bytes", len(data))
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}

	if exceedsBounds(cfg.Width, cfg.Height, opts) {
		return downscale(data, format, opts)
	}

	switch format {
	case "jpeg", "png", "gif", "webp":
		return &PreparedImage{
			Data:        data,
			Format:      format,
			ContentType: "image/" + format,
			Width:       cfg.Width,
			Height:      cfg.Height,
		}, nil
	default:
		return convertRasterToPNG(data, format)
	}
}

func convertRasterToPNG(data []byte, format string) (*PreparedImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode %s image to PNG: %w", format, err)
	}
	slog.Debug("imageprocessing: converted raster image to PNG",
		"source_format", format,
		"input_size_bytes", len(data),
		"output_size_bytes", buf.Len())
	return &PreparedImage{
		Data:        buf.Bytes(),
		Format:      "png",
		ContentType: "image/png",
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
	}, nil
}

func prepareSVG(data []byte, opts Options) (*PreparedImage, error) {
	w, h, ok := parseSvgExplicitSize(data)
	if !ok {
		w, h = opts.SVGFallbackWidth, opts.SVGFallbackHeight
		if w <= 0 || h <= 0 {
			w, h = defaultSVGWidth, defaultSVGHeight
		}
	}

	out, err := renderSVGToPNG(data, w, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}
	slog.Debug("imageprocessing: SVG render complete", "width", w, "height", h, "output_size_bytes", len(out))
	return &PreparedImage{
		Data:        out,
		Format:      "png",
		ContentType: "image/png",
		Width:       w,
		Height:      h,
	}, nil
}

// parseSvgExplicitSize attempts to extract width and height attributes from the SVG.
// Returns width, height, and ok=true if both are found and parseable.
func parseSvgExplicitSize(data []byte) (int, int, bool) {
	n := len(data)
	if n > 8192 {
		n = 8192
	}
	s := strings.ToLower(string(data[:n]))
	i := strings.Index(s, "<svg")
	if i < 0 {
		return 0, 0, false
	}
	j := strings.Index(s[i:], ">")
	if j < 0 {
		j = len(s)
	} else {
		j = i + j
	}
	tag := s[i:j]

	w, wOk := parseNumericAttr(tag, "width")
	h, hOk := parseNumericAttr(tag, "height")
	if wOk && hOk && w > 0 && h > 0 {
		return w, h, true
	}
	return 0, 0, false
}

// parseNumericAttr extracts the leading numeric value of an attribute (e.g., width="123px").
func parseNumericAttr(tag, attr string) (int, bool) {
	pos := strings.Index(tag, " "+attr+"=")
	if pos < 0 {
		return 0, false
	}
	rest := tag[pos+len(attr)+2:]
	if rest == "" {
		return 0, false
	}
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return 0, false
	}
	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return 0, false
	}
	val := rest[1 : 1+end]

	num := 0
	found := false
	for i := 0; i < len(val); i++ {
		ch := val[i]
		if ch >= '0' && ch <= '9' {
			found = true
			num = num*10 + int(ch-'0')
		} else if found {
			break
		}
	}
	if !found || num <= 0 {
		return 0, false
	}
	return num, true
}

// isSVGData performs a lightweight detection of SVG content from raw bytes.
func isSVGData(data []byte) bool {
	n := len(data)
	if n > 4096 {
		n = 4096
	}
	header := bytes.ToLower(bytes.TrimSpace(data[:n]))
	return bytes.Contains(header, []byte("<svg")) ||
		bytes.Contains(header, []byte("xmlns=\"http://www.w3.org/2000/svg\"")) ||
		bytes.Contains(header, []byte("xmlns='http://www.w3.org/2000/svg'"))
}

// renderSVGToPNG renders an SVG byte slice into a PNG with the given target dimensions.
func renderSVGToPNG(svgData []byte, targetW, targetH int) ([]byte, error) {
	if targetW <= 0 || targetH <= 0 {
		return nil, fmt.Errorf("invalid target dimensions for SVG rendering: %dx%d", targetW, targetH)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}
	icon.SetTarget(0, 0, float64(targetW), float64(targetH))

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(targetW, targetH, dst, dst.Bounds())
	dasher := rasterx.NewDasher(targetW, targetH, scanner)
	icon.Draw(dasher, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode rendered SVG as PNG: %w", err)
	}
	return buf.Bytes(), nil
}
