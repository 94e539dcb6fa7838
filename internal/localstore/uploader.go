package localstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"image-editor/internal/uploader"
)

var ErrInvalidName = errors.New("invalid object name")

// Uploader writes images below Dir and serves them from BaseURL.
type Uploader struct {
	Dir     string
	BaseURL string
	Prefix  string
}

func NewUploader(dir, baseURL, prefix string) *Uploader {
	return &Uploader{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/"), Prefix: strings.Trim(prefix, "/")}
}

func (u *Uploader) Upload(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if u.Dir == "" {
		return "", errors.New("local storage dir is required")
	}
	if filename == "" {
		return "", errors.New("object name is required")
	}

	clean, err := sanitizeObjectName(uploader.ObjectName(u.Prefix, filename))
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(u.Dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", err
	}

	escaped := escapePath(clean)
	if u.BaseURL == "" {
		// file:// keeps the result usable as an image URL without a server.
		abs, err := filepath.Abs(fullPath)
		if err != nil {
			return "", err
		}
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
	}
	return fmt.Sprintf("%s/%s", u.BaseURL, escaped), nil
}

func sanitizeObjectName(objectName string) (string, error) {
	if strings.Contains(objectName, "..") {
		return "", ErrInvalidName
	}
	clean := path.Clean("/" + objectName)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", ErrInvalidName
	}
	return clean, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
