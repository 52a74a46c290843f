// Package imageio converts between encoded images, image.Image and
// raster.Buffer.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	// Registered decoders.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	xdraw "golang.org/x/image/draw"

	"github.com/cjeanneret/vibecast/internal/fault"
	"github.com/cjeanneret/vibecast/internal/logic/raster"
)

// Format is an output encoding.
type Format string

const (
	JPEG Format = "jpg"
	PNG  Format = "png"
)

// DefaultJPEGQuality is used when Encode is given a quality outside 1-100.
const DefaultJPEGQuality = 90

// ParseFormat accepts "jpg", "jpeg" or "png", with or without a leading dot.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "jpg", "jpeg":
		return JPEG, nil
	case "png":
		return PNG, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// FormatFromPath picks the output format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == PNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Decode reads any registered format (jpeg, png, gif, bmp, tiff, webp).
func Decode(r io.Reader) (image.Image, string, error) {
	img, kind, err := image.Decode(r)
	if err != nil {
		return nil, "", fault.Configurationf("decode image: %v", err)
	}
	return img, kind, nil
}

// DecodeFile reads and decodes the image at path.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, _, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// FromImage flattens img into an RGB buffer. Alpha is dropped.
func FromImage(img image.Image) *raster.Buffer {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	}
	w, h := b.Dx(), b.Dy()
	cv := raster.NewCanvas(w, h)
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			cv.Set(x, y, raster.RGB{R: row[i], G: row[i+1], B: row[i+2]})
		}
	}
	return cv.Freeze()
}

// ToImage returns buf as an opaque *image.RGBA.
func ToImage(buf *raster.Buffer) *image.RGBA {
	w, h := buf.Width(), buf.Height()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := buf.At(x, y)
			i := img.PixOffset(x, y)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, 0xff
		}
	}
	return img
}

// Thumbnail scales img down so its width is at most maxWidth, preserving the
// aspect ratio. Images already small enough are returned unchanged.
func Thumbnail(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := max(1, b.Dy()*maxWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// Encode writes img in format f. quality applies to JPEG only.
func Encode(w io.Writer, img image.Image, f Format, quality int) error {
	switch f {
	case JPEG:
		if quality < 1 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
	case PNG:
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(w, img); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
	default:
		return fmt.Errorf("unsupported output format %q", f)
	}
	return nil
}

// EncodeBuffer encodes a raster buffer and returns the bytes.
func EncodeBuffer(buf *raster.Buffer, f Format, quality int) ([]byte, error) {
	var out bytes.Buffer
	if err := Encode(&out, ToImage(buf), f, quality); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
