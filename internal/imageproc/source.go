package imageproc

import "image"

// ImageSource is a decoded upload. Display size is the size the crop
// coordinates were taken against; it equals the natural size unless the
// image was shown scaled.
type ImageSource struct {
	Image         image.Image
	Name          string
	NaturalWidth  int
	NaturalHeight int
	DisplayWidth  int
	DisplayHeight int
}

func NewImageSource(name string, img image.Image) *ImageSource {
	b := img.Bounds()
	return &ImageSource{
		Image:         img,
		Name:          name,
		NaturalWidth:  b.Dx(),
		NaturalHeight: b.Dy(),
		DisplayWidth:  b.Dx(),
		DisplayHeight: b.Dy(),
	}
}

// WithDisplaySize returns a copy whose crop coordinates are interpreted
// against a w×h rendering of the image.
func (s *ImageSource) WithDisplaySize(w, h int) *ImageSource {
	cp := *s
	if w > 0 && h > 0 {
		cp.DisplayWidth = w
		cp.DisplayHeight = h
	}
	return &cp
}

func (s *ImageSource) scale() (float64, float64) {
	if s.DisplayWidth <= 0 || s.DisplayHeight <= 0 {
		return 1, 1
	}
	return float64(s.NaturalWidth) / float64(s.DisplayWidth),
		float64(s.NaturalHeight) / float64(s.DisplayHeight)
}
