package intake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"image-editor/internal/imageproc"
	"image-editor/internal/netfetch"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrDecodeFailure     = errors.New("failed to decode image")
	ErrNoFile            = errors.New("no file provided")
)

const (
	DefaultMaxFileSizeMB = 5
	bytesPerMB           = 1024 * 1024
)

// Origin records how a file reached the editor.
type Origin int

const (
	Picked Origin = iota
	Dropped
)

// File is a staged upload as received from a picker, a drop or a fetch.
type File struct {
	Name   string
	Type   string
	Size   int64
	Data   []byte
	Origin Origin
}

func DefaultAllowedTypes() []string {
	return []string{"image/jpeg", "image/png", "image/jpg", "image/webp"}
}

type Validator struct {
	AllowedTypes  []string
	MaxFileSizeMB float64
	MaxPixels     int
}

func NewValidator(allowed []string, maxFileSizeMB float64) *Validator {
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes()
	}
	if maxFileSizeMB <= 0 {
		maxFileSizeMB = DefaultMaxFileSizeMB
	}
	return &Validator{AllowedTypes: allowed, MaxFileSizeMB: maxFileSizeMB}
}

// Validate checks the declared type against the allow-list, then the size.
func (v *Validator) Validate(f File) error {
	fileType := f.Type
	if fileType == "" && len(f.Data) > 0 {
		fileType = sniffType(f.Data)
	}
	if !slices.Contains(v.AllowedTypes, strings.ToLower(fileType)) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, fileType)
	}
	size := f.Size
	if size == 0 {
		size = int64(len(f.Data))
	}
	if float64(size)/bytesPerMB > v.MaxFileSizeMB {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size)
	}
	return nil
}

// Decode turns a validated file into an ImageSource.
func (v *Validator) Decode(ctx context.Context, f File) (*imageproc.ImageSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imageproc.DecodeImage(f.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if err := imageproc.ValidateImage(img, v.MaxPixels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return imageproc.NewImageSource(f.Name, img), nil
}

// AllowedLabels renders the allow-list the way users see it, e.g. "JPEG, PNG".
func (v *Validator) AllowedLabels() string {
	labels := make([]string, 0, len(v.AllowedTypes))
	for _, t := range v.AllowedTypes {
		_, sub, ok := strings.Cut(t, "/")
		if !ok {
			sub = t
		}
		labels = append(labels, strings.ToUpper(sub))
	}
	return strings.Join(labels, ", ")
}

// FirstFile returns the only file a drop is allowed to contribute.
func FirstFile(files []File) (File, error) {
	if len(files) == 0 {
		return File{}, ErrNoFile
	}
	return files[0], nil
}

// FromURL fetches a remote image into a File, e.g. to re-crop the current image.
func FromURL(ctx context.Context, client *http.Client, rawURL string, maxBytes int64) (File, error) {
	res, err := netfetch.Download(ctx, client, rawURL, netfetch.Options{MaxBytes: maxBytes})
	if err != nil {
		return File{}, err
	}
	contentType := res.ContentType
	if base, _, ok := strings.Cut(contentType, ";"); ok {
		contentType = base
	}
	return File{
		Name:   res.Name,
		Type:   strings.TrimSpace(contentType),
		Size:   int64(len(res.Data)),
		Data:   res.Data,
		Origin: Picked,
	}, nil
}

func sniffType(data []byte) string {
	t := http.DetectContentType(data)
	if base, _, ok := strings.Cut(t, ";"); ok {
		t = base
	}
	return t
}
