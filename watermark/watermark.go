// Package watermark produces the public "protected" rendition of a photo: the
// studio seal tiled across the frame at half opacity, re-encoded as a lossy
// JPEG so the preview cannot stand in for the paid original.
package watermark

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	MinMarkSize   = 100
	MarkSizeRatio = 0.15
	JPEGQuality   = 70

	// tiles start at a quarter of each axis and advance by 1.5 quarters
	tileStepFactor = 1.5
)

var ErrUnsupportedFormat = errors.New("watermark: unsupported image format")

// LoadMark decodes the stored seal asset.
func LoadMark(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return img, nil
}

// Apply decodes original, composites mark across it and returns JPEG bytes
// with the same pixel dimensions as the input.
func Apply(original []byte, mark image.Image) ([]byte, error) {
	if mark == nil {
		return nil, errors.New("watermark: no mark image")
	}
	base, _, err := image.Decode(bytes.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	out := Composite(base, mark)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("watermark: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Composite draws the faded, scaled mark onto a copy of base at every tile
// position.
func Composite(base, mark image.Image) *image.RGBA {
	b := base.Bounds()
	w, h := b.Dx(), b.Dy()

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), base, b.Min, draw.Src)

	scaled := ScaleMark(mark, MarkSize(w, h))
	FadeAlpha(scaled, 0.5)

	mw, mh := scaled.Bounds().Dx(), scaled.Bounds().Dy()
	for _, p := range TilePositions(w, h, mw, mh) {
		r := image.Rect(p.X, p.Y, p.X+mw, p.Y+mh)
		draw.Draw(canvas, r, scaled, image.Point{}, draw.Over)
	}
	return canvas
}

// MarkSize is the target length of the mark's largest side.
func MarkSize(width, height int) int {
	short := width
	if height < short {
		short = height
	}
	size := int(math.Floor(float64(short) * MarkSizeRatio))
	if size < MinMarkSize {
		return MinMarkSize
	}
	return size
}

// ScaleMark resizes mark proportionally so its largest dimension equals size.
func ScaleMark(mark image.Image, size int) *image.RGBA {
	mb := mark.Bounds()
	mw, mh := mb.Dx(), mb.Dy()

	var tw, th int
	if mw >= mh {
		tw = size
		th = int(math.Round(float64(mh) * float64(size) / float64(mw)))
	} else {
		th = size
		tw = int(math.Round(float64(mw) * float64(size) / float64(mh)))
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), mark, mb, draw.Src, nil)
	return dst
}

// FadeAlpha multiplies every pixel's alpha by factor. RGBA is
// alpha-premultiplied, so scaling all four channels keeps the colour.
func FadeAlpha(img *image.RGBA, factor float64) {
	for i := range img.Pix {
		img.Pix[i] = uint8(float64(img.Pix[i]) * factor)
	}
}

// TilePositions lists the top-left corners of the tiles for a w×h canvas and
// an mw×mh mark. Tiles that would cross the canvas edge are skipped.
func TilePositions(w, h, mw, mh int) []image.Point {
	spacingX := float64(w) / 4
	spacingY := float64(h) / 4
	stepX := spacingX * tileStepFactor
	stepY := spacingY * tileStepFactor
	if stepX <= 0 || stepY <= 0 {
		return nil
	}

	var points []image.Point
	for y := spacingY; int(y)+mh <= h; y += stepY {
		for x := spacingX; int(x)+mw <= w; x += stepX {
			points = append(points, image.Point{X: int(x), Y: int(y)})
		}
	}
	return points
}
