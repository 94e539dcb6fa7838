package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var (
	ErrImageTooManyPixels = errors.New("image exceeds maximum pixel count")
	ErrCropOutOfBounds    = errors.New("crop rectangle exceeds image bounds")
	ErrCropInvalid        = errors.New("crop rectangle is invalid")
	ErrEncode             = errors.New("failed to encode image")
)

const DefaultQuality = 90

// Crop is an integer crop rectangle relative to the image origin.
type Crop struct {
	X      int
	Y      int
	Width  int
	Height int
}

func DecodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

func ValidateImage(img image.Image, maxPixels int) error {
	// Guard against images that are valid but too large for memory/time budgets.
	if maxPixels <= 0 {
		return nil
	}
	bounds := img.Bounds()
	pixels := bounds.Dx() * bounds.Dy()
	if pixels > maxPixels {
		return ErrImageTooManyPixels
	}
	return nil
}

func CropImage(img image.Image, crop Crop) (image.Image, error) {
	if crop.Width <= 0 || crop.Height <= 0 || crop.X < 0 || crop.Y < 0 {
		return nil, ErrCropInvalid
	}

	bounds := img.Bounds()
	if crop.X+crop.Width > bounds.Dx() || crop.Y+crop.Height > bounds.Dy() {
		return nil, ErrCropOutOfBounds
	}

	rect := image.Rect(
		bounds.Min.X+crop.X,
		bounds.Min.Y+crop.Y,
		bounds.Min.X+crop.X+crop.Width,
		bounds.Min.Y+crop.Y+crop.Height,
	)

	return imaging.Crop(img, rect), nil
}

// Encode writes img in the given format. Quality is ignored for PNG.
func Encode(img image.Image, format Format, quality int) ([]byte, error) {
	if quality < 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	var err error
	switch format {
	case PNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case JPEG:
		// image/jpeg treats anything below 1 as 1.
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case WebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	default:
		return nil, fmt.Errorf("%w: unknown format %d", ErrEncode, int(format))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}
