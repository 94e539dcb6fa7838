package netfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
)

var (
	ErrTooLarge         = errors.New("content exceeds maximum size")
	ErrDownloadFailed   = errors.New("download failed")
	ErrInvalidURL       = errors.New("url must use http or https")
	ErrTooManyRedirects = errors.New("too many redirects")
)

type Options struct {
	MaxBytes     int64
	MaxRedirects int
}

// Result is a downloaded body with the metadata intake needs.
type Result struct {
	Data        []byte
	ContentType string
	Name        string
}

func Download(ctx context.Context, client *http.Client, rawURL string, opts Options) (Result, error) {
	// Download with scheme checks, redirect limits, and size guards (Content-Length check + hard read cap).
	if client == nil {
		client = http.DefaultClient
	}
	parsed, ok := allowedURL(rawURL)
	if !ok {
		return Result{}, ErrInvalidURL
	}

	clientCopy := *client
	redirectLimit := opts.MaxRedirects
	if redirectLimit <= 0 {
		redirectLimit = 3
	}
	clientCopy.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= redirectLimit {
			return ErrTooManyRedirects
		}
		if _, ok := allowedURL(req.URL.String()); !ok {
			return ErrInvalidURL
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", "image-editor/1.0")
	req.Header.Set("Accept", "image/*")

	resp, err := clientCopy.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Result{}, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	if opts.MaxBytes > 0 && resp.ContentLength > opts.MaxBytes {
		return Result{}, ErrTooLarge
	}

	var limit io.Reader = resp.Body
	if opts.MaxBytes > 0 {
		limit = io.LimitReader(resp.Body, opts.MaxBytes+1)
	}

	data, err := io.ReadAll(limit)
	if err != nil {
		return Result{}, err
	}
	if opts.MaxBytes > 0 && int64(len(data)) > opts.MaxBytes {
		return Result{}, ErrTooLarge
	}

	name := path.Base(parsed.Path)
	if name == "." || name == "/" {
		name = "image"
	}
	return Result{Data: data, ContentType: resp.Header.Get("Content-Type"), Name: name}, nil
}

func allowedURL(rawURL string) (*url.URL, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}
	switch parsed.Scheme {
	case "http", "https":
		return parsed, true
	default:
		return nil, false
	}
}
