// Package crop turns a face region into the square, padded window that is
// fed to generation.
package crop

import (
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/example/facemoji/internal/facelocator"
)

// DefaultMargin pads the face by a quarter of its size on every side.
const DefaultMargin = 0.25

// Planner computes crop windows.
type Planner struct {
	Margin float64
}

// NewPlanner returns a planner with the given per-side margin fraction.
func NewPlanner(margin float64) Planner {
	return Planner{Margin: margin}
}

// Plan returns a square window of side max(w,h)+2*margin centred on the face
// centroid. The window is shifted, not shrunk, to stay inside
// [0,width)x[0,height); only an axis shorter than the side is cut to the
// image on that axis.
func (p Planner) Plan(face facelocator.Region, width, height int) image.Rectangle {
	box := face.Box
	size := max(box.Dx(), box.Dy())
	cx := (box.Min.X + box.Max.X) / 2
	cy := (box.Min.Y + box.Max.Y) / 2

	margin := int(float64(size) * p.Margin)
	size += 2 * margin

	x0, x1 := clampAxis(cx-size/2, size, width)
	y0, y1 := clampAxis(cy-size/2, size, height)
	return image.Rect(x0, y0, x1, y1)
}

// clampAxis shifts [start, start+size) into [0, bound).
func clampAxis(start, size, bound int) (int, int) {
	if size >= bound {
		return 0, bound
	}
	start = min(max(start, 0), bound-size)
	return start, start + size
}

// Extract copies window out of img and resizes it to outputSize x outputSize.
// A zero outputSize keeps the cropped size.
func Extract(img image.Image, window image.Rectangle, outputSize uint) image.Image {
	window = window.Add(img.Bounds().Min).Intersect(img.Bounds())
	dst := image.NewNRGBA(image.Rect(0, 0, window.Dx(), window.Dy()))
	draw.Draw(dst, dst.Bounds(), img, window.Min, draw.Src)

	if outputSize == 0 {
		return dst
	}
	return resize.Resize(outputSize, outputSize, dst, resize.Lanczos3)
}
