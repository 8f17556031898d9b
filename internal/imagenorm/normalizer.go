package imagenorm

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"

	// Registered so image.Decode recognizes the accepted formats.
	_ "image/gif"
	_ "image/jpeg"

	// Registered so off-list formats are rejected by name instead of
	// failing as unreadable binary.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// MaxDimension is the largest width or height the classifier accepts.
	MaxDimension = 1500

	// MinAspectRatio and MaxAspectRatio bound width/height. The classifier
	// expects near-square crops; strongly rectangular images degrade
	// identification quality.
	MinAspectRatio = 0.8
	MaxAspectRatio = 1.2
)

// ValidationError reports an image that failed one of the normalization
// gates. The message is safe to surface in an identification record.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// acceptedFormats is the allow-list of declared input formats. Output is
// always PNG, so normalized images re-enter the pipeline cleanly.
var acceptedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"gif":  true,
}

// Normalize validates raw image bytes and re-encodes them into the canonical
// form submitted to the classifier: 3-channel RGB, both dimensions at most
// MaxDimension, PNG container. Gates run in order and the first failure wins;
// a *ValidationError is returned instead of a partial result.
func Normalize(raw []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &ValidationError{Reason: "not a valid image"}
	}

	if !acceptedFormats[format] {
		return nil, validationErrorf("unsupported format: %s", format)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if height == 0 {
		return nil, &ValidationError{Reason: "not a valid image"}
	}

	ratio := float64(width) / float64(height)
	if ratio < MinAspectRatio || ratio > MaxAspectRatio {
		return nil, validationErrorf(
			"invalid aspect ratio %.2f: must be between %.2f and %.2f",
			ratio, MinAspectRatio, MaxAspectRatio,
		)
	}

	rgb := flattenToRGB(img)
	rgb = downscale(rgb, MaxDimension)

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestCompression}
	if err := encoder.Encode(&buf, rgb); err != nil {
		return nil, validationErrorf("failed to encode image: %v", err)
	}
	return buf.Bytes(), nil
}

// flattenToRGB draws the image onto an opaque RGBA canvas, discarding alpha
// and palette information.
func flattenToRGB(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), img, bounds.Min, draw.Over)
	return canvas
}

// downscale shrinks the image so neither dimension exceeds max, preserving
// aspect ratio. Images already within bounds pass through untouched; nothing
// is ever upscaled.
func downscale(img *image.RGBA, max int) *image.RGBA {
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	if width <= max && height <= max {
		return img
	}

	scale := float64(max) / float64(width)
	if height > width {
		scale = float64(max) / float64(height)
	}
	targetW := int(float64(width) * scale)
	targetH := int(float64(height) * scale)
	if targetW < 1 {
		targetW = 1
	}
	if targetH < 1 {
		targetH = 1
	}

	scaled := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
	return scaled
}
