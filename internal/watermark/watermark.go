package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Stamper applies a diagonal translucent label to free-tier outputs.
// Watermarking is cosmetic and best-effort: any failure returns the input
// bytes unchanged instead of failing the pipeline.
type Stamper struct {
	text    string
	opacity float64
}

func NewStamper(text string, opacity float64) *Stamper {
	if text == "" {
		text = "rizzify.app"
	}
	if opacity <= 0 || opacity > 1 {
		opacity = 0.35
	}
	return &Stamper{text: text, opacity: opacity}
}

// Stamp overlays the label across the image diagonal and re-encodes as
// JPEG. Returns the original bytes on any decode, compose, or encode error.
func (s *Stamper) Stamp(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	stamped, err := s.compose(img)
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, stamped, &jpeg.Options{Quality: 92}); err != nil {
		return data
	}
	return buf.Bytes()
}

func (s *Stamper) compose(img image.Image) (image.Image, error) {
	base := imaging.Clone(img)
	bounds := base.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	shorter := w
	if h < shorter {
		shorter = h
	}

	label := renderLabel(s.text)

	// Label height tracks the shorter dimension so the mark reads the same
	// on thumbnails and full-size outputs.
	targetH := shorter / 10
	if targetH < label.Bounds().Dy() {
		targetH = label.Bounds().Dy()
	}
	scaled := imaging.Resize(label, 0, targetH, imaging.Lanczos)
	rotated := imaging.Rotate(scaled, 30, color.NRGBA{})

	pos := image.Pt(
		(w-rotated.Bounds().Dx())/2,
		(h-rotated.Bounds().Dy())/2,
	)
	return imaging.Overlay(base, rotated, pos, s.opacity), nil
}

// renderLabel draws the watermark text in white on a transparent strip.
func renderLabel(text string) *image.NRGBA {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Face: face}
	width := drawer.MeasureString(text).Ceil() + 4

	img := image.NewNRGBA(image.Rect(0, 0, width, 16))
	drawer.Dst = img
	drawer.Src = image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	drawer.Dot = fixed.P(2, 12)
	drawer.DrawString(text)
	return img
}
