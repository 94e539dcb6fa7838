package session

import (
	"errors"
	"fmt"
	"math"

	"image-editor/internal/imageproc"
)

var (
	ErrDimensionsOutOfRange = errors.New("target dimensions out of range")
	ErrZoomOutOfRange       = errors.New("zoom out of range")
	ErrQualityOutOfRange    = errors.New("quality must be between 0 and 100")
	ErrFeatureDisabled      = errors.New("feature disabled")
	ErrUnknownPreset        = errors.New("unknown aspect preset")
	ErrUnknownAction        = errors.New("unknown action")
)

const (
	MinZoom = 0.5
	MaxZoom = 3.0
	// zoom snaps to 1/zoomSteps increments
	zoomSteps = 10
)

type Limits struct {
	MinWidth  int `json:"minWidth" yaml:"minWidth"`
	MaxWidth  int `json:"maxWidth" yaml:"maxWidth"`
	MinHeight int `json:"minHeight" yaml:"minHeight"`
	MaxHeight int `json:"maxHeight" yaml:"maxHeight"`
}

func (l Limits) Allows(w, h int) bool {
	return w >= l.MinWidth && w <= l.MaxWidth && h >= l.MinHeight && h <= l.MaxHeight
}

// Features toggles the optional controls. CircularPreview only affects how
// consumers render the preview.
type Features struct {
	EnableZoom          bool `json:"enableZoom" yaml:"enableZoom"`
	EnableQuality       bool `json:"enableQuality" yaml:"enableQuality"`
	EnableFormat        bool `json:"enableFormat" yaml:"enableFormat"`
	EnableAspectPresets bool `json:"enableAspectPresets" yaml:"enableAspectPresets"`
	CircularPreview     bool `json:"circularPreview" yaml:"circularPreview"`
}

type Config struct {
	Limits            Limits
	Features          Features
	Aspect            imageproc.Aspect
	Presets           []imageproc.AspectPreset
	RecommendedWidth  int
	RecommendedHeight int
	DefaultQuality    int
	DefaultFormat     imageproc.Format
}

func DefaultConfig() Config {
	return Config{
		Limits:            Limits{MinWidth: 10, MaxWidth: 2000, MinHeight: 10, MaxHeight: 2000},
		Presets:           imageproc.DefaultAspectPresets(),
		RecommendedWidth:  150,
		RecommendedHeight: 150,
		DefaultQuality:    imageproc.DefaultQuality,
		DefaultFormat:     imageproc.PNG,
	}
}

// CropSession is the full edit state for one ImageSource. Values are never
// mutated; every change produces a new session.
type CropSession struct {
	SourceWidth  int                   `json:"sourceWidth"`
	SourceHeight int                   `json:"sourceHeight"`
	Crop         *imageproc.CropRegion `json:"crop,omitempty"`
	Aspect       imageproc.Aspect      `json:"aspect"`
	Output       imageproc.OutputSpec  `json:"output"`
	Features     Features              `json:"features"`
	config       Config
}

// New starts a session for a sourceW×sourceH image with a centered crop.
func New(sourceW, sourceH int, cfg Config) CropSession {
	crop := imageproc.InitializeCrop(sourceW, sourceH, cfg.Aspect)
	return CropSession{
		SourceWidth:  sourceW,
		SourceHeight: sourceH,
		Crop:         &crop,
		Aspect:       cfg.Aspect,
		Output: imageproc.OutputSpec{
			TargetWidth:  cfg.RecommendedWidth,
			TargetHeight: cfg.RecommendedHeight,
			Zoom:         1,
			Quality:      cfg.DefaultQuality,
			Format:       cfg.DefaultFormat,
		},
		Features: cfg.Features,
		config:   cfg,
	}
}

func (s CropSession) Config() Config { return s.config }

// Action is one user edit. The set is closed to this package.
type Action interface {
	apply(s CropSession) (CropSession, error)
}

// Apply returns the session after a. On rejection s is returned unchanged.
func Apply(s CropSession, a Action) (CropSession, error) {
	if a == nil {
		return s, ErrUnknownAction
	}
	next, err := a.apply(s)
	if err != nil {
		return s, err
	}
	return next, nil
}

type UpdateCrop struct {
	Region imageproc.CropRegion
}

func (a UpdateCrop) apply(s CropSession) (CropSession, error) {
	if err := a.Region.Validate(s.SourceWidth, s.SourceHeight, s.Aspect); err != nil {
		return s, err
	}
	region := a.Region
	s.Crop = &region
	return s, nil
}

// SelectAspectPreset switches the aspect and recenters the crop. Label wins
// over Ratio when set.
type SelectAspectPreset struct {
	Label string
	Ratio imageproc.Aspect
}

func (a SelectAspectPreset) apply(s CropSession) (CropSession, error) {
	if !s.Features.EnableAspectPresets {
		return s, fmt.Errorf("%w: aspect presets", ErrFeatureDisabled)
	}
	ratio := a.Ratio
	if a.Label != "" {
		found := false
		for _, p := range s.config.Presets {
			if p.Label == a.Label {
				ratio, found = p.Ratio, true
				break
			}
		}
		if !found {
			return s, fmt.Errorf("%w: %q", ErrUnknownPreset, a.Label)
		}
	}
	if ratio.IsFree() {
		ratio = imageproc.Free
	}
	crop := imageproc.InitializeCrop(s.SourceWidth, s.SourceHeight, ratio)
	s.Aspect = ratio
	s.Crop = &crop
	return s, nil
}

type SetTargetDimensions struct {
	Width  int
	Height int
}

func (a SetTargetDimensions) apply(s CropSession) (CropSession, error) {
	if !s.config.Limits.Allows(a.Width, a.Height) {
		return s, fmt.Errorf("%w: %dx%d", ErrDimensionsOutOfRange, a.Width, a.Height)
	}
	s.Output.TargetWidth = a.Width
	s.Output.TargetHeight = a.Height
	return s, nil
}

type SetZoom struct {
	Zoom float64
}

func (a SetZoom) apply(s CropSession) (CropSession, error) {
	if !s.Features.EnableZoom {
		return s, fmt.Errorf("%w: zoom", ErrFeatureDisabled)
	}
	const eps = 1e-9
	if math.IsNaN(a.Zoom) || a.Zoom < MinZoom-eps || a.Zoom > MaxZoom+eps {
		return s, fmt.Errorf("%w: %.2f", ErrZoomOutOfRange, a.Zoom)
	}
	s.Output.Zoom = math.Round(a.Zoom*zoomSteps) / zoomSteps
	return s, nil
}

type SetQuality struct {
	Quality int
}

func (a SetQuality) apply(s CropSession) (CropSession, error) {
	if !s.Features.EnableQuality {
		return s, fmt.Errorf("%w: quality", ErrFeatureDisabled)
	}
	if a.Quality < 0 || a.Quality > 100 {
		return s, ErrQualityOutOfRange
	}
	s.Output.Quality = a.Quality
	return s, nil
}

type SetFormat struct {
	Format imageproc.Format
}

func (a SetFormat) apply(s CropSession) (CropSession, error) {
	if !s.Features.EnableFormat {
		return s, fmt.Errorf("%w: format", ErrFeatureDisabled)
	}
	if _, err := a.Format.MarshalText(); err != nil {
		return s, err
	}
	s.Output.Format = a.Format
	return s, nil
}
