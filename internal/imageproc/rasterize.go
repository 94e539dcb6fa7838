package imageproc

import (
	"context"
	"errors"
	"math"

	"github.com/disintegration/imaging"
)

// ErrNotReady is returned when no crop has been completed yet.
var ErrNotReady = errors.New("crop not completed")

// OutputSpec describes the raster produced from a crop.
type OutputSpec struct {
	TargetWidth  int     `json:"targetWidth"`
	TargetHeight int     `json:"targetHeight"`
	Zoom         float64 `json:"zoom"`
	Quality      int     `json:"quality"`
	Format       Format  `json:"format"`
}

// PixelSize is the final raster size: target dimensions magnified by zoom.
func (o OutputSpec) PixelSize() (int, int) {
	zoom := o.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	return int(math.Round(float64(o.TargetWidth) * zoom)), int(math.Round(float64(o.TargetHeight) * zoom))
}

// Blob is an encoded raster.
type Blob struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Rasterize renders crop of src into spec's pixel size and encodes it.
// Identical inputs give identical output.
func Rasterize(ctx context.Context, src *ImageSource, crop *CropRegion, spec OutputSpec) (*Blob, error) {
	if src == nil || src.Image == nil || crop == nil {
		return nil, ErrNotReady
	}
	outW, outH := spec.PixelSize()
	if outW <= 0 || outH <= 0 {
		return nil, ErrCropInvalid
	}

	cropped, err := CropImage(src.Image, naturalCrop(src, *crop))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resized := imaging.Resize(cropped, outW, outH, imaging.Lanczos)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := Encode(resized, spec.Format, spec.Quality)
	if err != nil {
		return nil, err
	}
	return &Blob{
		Data:     data,
		MIMEType: spec.Format.MIMEType(),
		Width:    outW,
		Height:   outH,
	}, nil
}

// naturalCrop maps a display-space crop onto the decoded pixel grid,
// clamping rounding overshoot at the image edges.
func naturalCrop(src *ImageSource, crop CropRegion) Crop {
	sx, sy := src.scale()
	bounds := src.Image.Bounds()
	x0 := clamp(int(math.Round(crop.X*sx)), 0, bounds.Dx())
	y0 := clamp(int(math.Round(crop.Y*sy)), 0, bounds.Dy())
	x1 := clamp(int(math.Round((crop.X+crop.Width)*sx)), 0, bounds.Dx())
	y1 := clamp(int(math.Round((crop.Y+crop.Height)*sy)), 0, bounds.Dy())
	return Crop{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
