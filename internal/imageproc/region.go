package imageproc

import (
	"fmt"
	"math"
)

// RatioTolerance is the allowed |width/height - aspect| for constrained regions.
const RatioTolerance = 1e-3

// defaultCoverage is the share of the largest fitting rectangle used for a fresh crop.
const defaultCoverage = 0.9

const boundsEpsilon = 1e-6

// Aspect is a width/height ratio. The zero value means free-form.
type Aspect float64

const Free Aspect = 0

func (a Aspect) IsFree() bool { return a <= 0 || math.IsNaN(float64(a)) }

// AspectPreset is a labelled aspect choice offered to the user.
type AspectPreset struct {
	Label string `json:"label" yaml:"label"`
	Ratio Aspect `json:"ratio" yaml:"ratio"`
}

func DefaultAspectPresets() []AspectPreset {
	return []AspectPreset{
		{Label: "Free", Ratio: Free},
		{Label: "Square (1:1)", Ratio: 1},
		{Label: "Portrait (3:4)", Ratio: 3.0 / 4.0},
		{Label: "Landscape (16:9)", Ratio: 16.0 / 9.0},
		{Label: "Landscape (4:3)", Ratio: 4.0 / 3.0},
	}
}

// CropRegion is a rectangle in the source's display coordinates.
type CropRegion struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r CropRegion) String() string {
	return fmt.Sprintf("crop(x=%.2f,y=%.2f,w=%.2f,h=%.2f)", r.X, r.Y, r.Width, r.Height)
}

// InitializeCrop centers the largest rectangle of the given ratio that fits a
// sourceW×sourceH image and shrinks it to 90%. A free aspect uses the
// source's own ratio.
func InitializeCrop(sourceW, sourceH int, aspect Aspect) CropRegion {
	w, h := float64(sourceW), float64(sourceH)
	if w <= 0 || h <= 0 {
		return CropRegion{}
	}
	ratio := float64(aspect)
	if aspect.IsFree() {
		ratio = w / h
	}

	cw, ch := w, w/ratio
	if ch > h {
		ch = h
		cw = h * ratio
	}
	cw *= defaultCoverage
	ch *= defaultCoverage

	return CropRegion{
		X:      (w - cw) / 2,
		Y:      (h - ch) / 2,
		Width:  cw,
		Height: ch,
	}
}

// Validate checks r against a sourceW×sourceH image and, when aspect is set,
// the required ratio.
func (r CropRegion) Validate(sourceW, sourceH int, aspect Aspect) error {
	if !r.finite() {
		return fmt.Errorf("%w: non-finite coordinates", ErrCropInvalid)
	}
	if r.Width <= 0 || r.Height <= 0 || r.X < -boundsEpsilon || r.Y < -boundsEpsilon {
		return ErrCropInvalid
	}
	if r.X+r.Width > float64(sourceW)+boundsEpsilon || r.Y+r.Height > float64(sourceH)+boundsEpsilon {
		return ErrCropOutOfBounds
	}
	if !aspect.IsFree() && math.Abs(r.Width/r.Height-float64(aspect)) > RatioTolerance {
		return fmt.Errorf("%w: ratio %.4f does not match aspect %.4f", ErrCropInvalid, r.Width/r.Height, float64(aspect))
	}
	return nil
}

func (r CropRegion) finite() bool {
	for _, v := range [...]float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
