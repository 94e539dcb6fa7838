package imageproc

import (
	"fmt"
	"strings"
)

// Format is the closed set of output encodings.
type Format int

const (
	PNG Format = iota
	JPEG
	WebP
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png", "image/png":
		return PNG, nil
	case "jpeg", "jpg", "image/jpeg", "image/jpg":
		return JPEG, nil
	case "webp", "image/webp":
		return WebP, nil
	}
	return PNG, fmt.Errorf("unsupported output format %q", s)
}

func (f Format) String() string {
	switch f {
	case PNG:
		return "png"
	case JPEG:
		return "jpeg"
	case WebP:
		return "webp"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

func (f Format) MIMEType() string {
	switch f {
	case PNG:
		return "image/png"
	case JPEG:
		return "image/jpeg"
	case WebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// Extension is the file extension without the dot; JPEG uses "jpg".
func (f Format) Extension() string {
	switch f {
	case PNG:
		return "png"
	case JPEG:
		return "jpg"
	case WebP:
		return "webp"
	}
	return "bin"
}

func (f Format) MarshalText() ([]byte, error) {
	switch f {
	case PNG, JPEG, WebP:
		return []byte(f.String()), nil
	}
	return nil, fmt.Errorf("unsupported output format %d", int(f))
}

func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
