// Package config loads the editor surface from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"

	"image-editor/internal/imageproc"
	"image-editor/internal/intake"
	"image-editor/internal/session"
	"image-editor/internal/uploader"
)

const (
	BackendGraphQL = "graphql"
	BackendGCS     = "gcs"
	BackendLocal   = "local"
)

type Config struct {
	Label          string           `yaml:"label" validate:"required"`
	CurrentImage   string           `yaml:"currentImage"`
	EnableDragDrop bool             `yaml:"enableDragDrop"`
	Intake         Intake           `yaml:"intake"`
	Crop           Crop             `yaml:"crop"`
	Features       session.Features `yaml:"features"`
	Storage        Storage          `yaml:"storage"`
	Retry          Retry            `yaml:"retry"`
	// SessionTTL closes API sessions idle for longer; 0 keeps them forever.
	SessionTTL time.Duration `yaml:"sessionTTL" validate:"gte=0"`
}

type Intake struct {
	AllowedTypes  []string `yaml:"allowedTypes" validate:"required,min=1,dive,required"`
	MaxFileSizeMB float64  `yaml:"maxFileSizeMB" validate:"gt=0"`
	MaxPixels     int      `yaml:"maxPixels" validate:"gte=0"`
	MaxFetchBytes int64    `yaml:"maxFetchBytes" validate:"gte=0"`
}

type Crop struct {
	// Aspect is width/height; 0 leaves the crop free-form.
	Aspect            float64 `yaml:"aspect" validate:"gte=0"`
	RecommendedWidth  int     `yaml:"recommendedWidth" validate:"gt=0"`
	RecommendedHeight int     `yaml:"recommendedHeight" validate:"gt=0"`
	MinWidth          int     `yaml:"minWidth" validate:"gt=0"`
	MaxWidth          int     `yaml:"maxWidth" validate:"gtefield=MinWidth"`
	MinHeight         int     `yaml:"minHeight" validate:"gt=0"`
	MaxHeight         int     `yaml:"maxHeight" validate:"gtefield=MinHeight"`
	DefaultQuality    int     `yaml:"defaultQuality" validate:"gte=0,lte=100"`
	DefaultFormat     string  `yaml:"defaultFormat" validate:"oneof=png jpeg jpg webp"`
	// Presets are offered in order; a ratio of 0 is free-form.
	Presets []Preset `yaml:"presets" validate:"required,min=1,dive"`
}

type Preset struct {
	Label string  `yaml:"label" validate:"required"`
	Ratio float64 `yaml:"ratio" validate:"gte=0"`
}

type Storage struct {
	Backend         string `yaml:"backend" validate:"oneof=graphql gcs local"`
	Endpoint        string `yaml:"endpoint"`
	CDNOrigin       string `yaml:"cdnOrigin"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	MakePublic      bool   `yaml:"makePublic"`
	AllowACLFailure bool   `yaml:"allowACLFailure"`
	Dir             string `yaml:"dir"`
	BaseURL         string `yaml:"baseURL"`
}

type Retry struct {
	Attempts int           `yaml:"attempts" validate:"gte=1,lte=10"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
	Backoff  time.Duration `yaml:"backoff" validate:"gte=0"`
}

func Default() Config {
	policy := uploader.DefaultRetryPolicy()
	return Config{
		Label: "Image",
		Intake: Intake{
			AllowedTypes:  intake.DefaultAllowedTypes(),
			MaxFileSizeMB: intake.DefaultMaxFileSizeMB,
			MaxFetchBytes: 20 << 20,
		},
		Crop: Crop{
			RecommendedWidth:  150,
			RecommendedHeight: 150,
			MinWidth:          10,
			MaxWidth:          2000,
			MinHeight:         10,
			MaxHeight:         2000,
			DefaultQuality:    imageproc.DefaultQuality,
			DefaultFormat:     "png",
			Presets:           defaultPresets(),
		},
		Storage: Storage{Backend: BackendLocal, Dir: "uploads"},
		Retry:      Retry{Attempts: policy.Attempts, Timeout: policy.Timeout, Backoff: policy.Backoff},
		SessionTTL: 30 * time.Minute,
	}
}

func defaultPresets() []Preset {
	var out []Preset
	for _, p := range imageproc.DefaultAspectPresets() {
		out = append(out, Preset{Label: p.Label, Ratio: float64(p.Ratio)})
	}
	return out
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Crop.RecommendedWidth < c.Crop.MinWidth || c.Crop.RecommendedWidth > c.Crop.MaxWidth ||
		c.Crop.RecommendedHeight < c.Crop.MinHeight || c.Crop.RecommendedHeight > c.Crop.MaxHeight {
		return errors.New("recommended dimensions must be within the size limits")
	}
	switch c.Storage.Backend {
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the gcs backend")
		}
	case BackendLocal:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for the local backend")
		}
	}
	return nil
}

func (c Config) SessionConfig() session.Config {
	format, err := imageproc.ParseFormat(c.Crop.DefaultFormat)
	if err != nil {
		format = imageproc.PNG
	}
	cfg := session.DefaultConfig()
	cfg.Limits = session.Limits{
		MinWidth:  c.Crop.MinWidth,
		MaxWidth:  c.Crop.MaxWidth,
		MinHeight: c.Crop.MinHeight,
		MaxHeight: c.Crop.MaxHeight,
	}
	cfg.Features = c.Features
	cfg.Aspect = imageproc.Aspect(c.Crop.Aspect)
	cfg.RecommendedWidth = c.Crop.RecommendedWidth
	cfg.RecommendedHeight = c.Crop.RecommendedHeight
	cfg.DefaultQuality = c.Crop.DefaultQuality
	cfg.DefaultFormat = format
	cfg.Presets = c.AspectPresets()
	return cfg
}

// AspectPresets returns the configured presets in display order.
func (c Config) AspectPresets() []imageproc.AspectPreset {
	out := make([]imageproc.AspectPreset, 0, len(c.Crop.Presets))
	for _, p := range c.Crop.Presets {
		out = append(out, imageproc.AspectPreset{Label: p.Label, Ratio: imageproc.Aspect(p.Ratio)})
	}
	return out
}

func (c Config) Validator() *intake.Validator {
	v := intake.NewValidator(c.Intake.AllowedTypes, c.Intake.MaxFileSizeMB)
	v.MaxPixels = c.Intake.MaxPixels
	return v
}

func (c Config) RetryPolicy() uploader.RetryPolicy {
	return uploader.RetryPolicy{Attempts: c.Retry.Attempts, Timeout: c.Retry.Timeout, Backoff: c.Retry.Backoff}
}
