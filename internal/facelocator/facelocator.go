// Package facelocator picks the primary face in an image using a remote
// detector.
package facelocator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
)

// DefaultMinConfidence is the threshold below which a detection is not trusted.
const DefaultMinConfidence = 0.5

var (
	// ErrNoFace means the detector returned no candidates.
	ErrNoFace = errors.New("no face detected")
	// ErrLowConfidence means the best candidate scored below the threshold.
	ErrLowConfidence = errors.New("no face detected with high confidence")
	// ErrEmptyRegion means the best candidate collapsed to nothing inside the image.
	ErrEmptyRegion = errors.New("detected face region is empty")
)

// Detection is one detector candidate. Box holds startX, startY, endX, endY
// normalized to [0,1] relative to the image size.
type Detection struct {
	Box        [4]float64
	Confidence float64
}

// Region is the chosen face in pixel coordinates.
type Region struct {
	Box        image.Rectangle
	Confidence float64
}

// Detector runs face detection on a whole image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Locator selects the single most confident face.
type Locator struct {
	detector      Detector
	minConfidence float64
}

// NewLocator builds a Locator. A non-positive minConfidence falls back to
// DefaultMinConfidence.
func NewLocator(detector Detector, minConfidence float64) *Locator {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Locator{detector: detector, minConfidence: minConfidence}
}

// Locate runs the detector once and returns the best face, ErrNoFace or
// ErrLowConfidence.
func (l *Locator) Locate(ctx context.Context, img image.Image) (Region, error) {
	detections, err := l.detector.Detect(ctx, img)
	if err != nil {
		return Region{}, fmt.Errorf("detect faces: %w", err)
	}
	if len(detections) == 0 {
		return Region{}, ErrNoFace
	}

	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence || math.IsNaN(best.Confidence) {
			best = d
		}
	}
	// written so that a NaN confidence never passes
	if !(best.Confidence >= l.minConfidence) {
		return Region{}, ErrLowConfidence
	}

	box := scaleBox(best.Box, img.Bounds())
	if box.Empty() {
		return Region{}, ErrEmptyRegion
	}
	return Region{Box: box, Confidence: best.Confidence}, nil
}

// scaleBox maps a normalized box onto bounds and clips it to them.
func scaleBox(norm [4]float64, bounds image.Rectangle) image.Rectangle {
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	box := image.Rect(
		int(math.Floor(norm[0]*w)),
		int(math.Floor(norm[1]*h)),
		int(math.Floor(norm[2]*w)),
		int(math.Floor(norm[3]*h)),
	)
	return box.Add(bounds.Min).Intersect(bounds).Sub(bounds.Min)
}
