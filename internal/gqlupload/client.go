// Package gqlupload sends images to a GraphQL endpoint using the multipart
// request convention (operations + map + file parts).
package gqlupload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"image-editor/internal/uploader"
)

const (
	DefaultEndpoint  = "https://admin.thrico.app/graphql"
	DefaultCDNOrigin = "https://cdn.thrico.network"

	uploadMutation = `mutation uploadImage($file: Upload!) { uploadImage(file: $file) }`
	maxResponse    = 1 << 20
)

var ErrEmptyKey = errors.New("upload returned no storage key")

// TokenProvider returns the Authorization header value for a request.
// An empty token sends no header.
type TokenProvider func(ctx context.Context) (string, error)

func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

type Client struct {
	HTTP      *http.Client
	Endpoint  string
	CDNOrigin string
	Token     TokenProvider
}

func NewClient(httpClient *http.Client, endpoint, cdnOrigin string, token TokenProvider) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if cdnOrigin == "" {
		cdnOrigin = DefaultCDNOrigin
	}
	return &Client{
		HTTP:      httpClient,
		Endpoint:  endpoint,
		CDNOrigin: strings.TrimRight(cdnOrigin, "/"),
		Token:     token,
	}
}

type gqlError struct {
	Message string `json:"message"`
}

type uploadResponse struct {
	Data struct {
		UploadImage string `json:"uploadImage"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

// Upload runs the uploadImage mutation and returns the CDN URL of the stored key.
func (c *Client) Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	body, formType, err := encodeMultipart(objectName, data, contentType)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", formType)
	req.Header.Set("Apollo-Require-Preflight", "true")
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("token provider: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", token)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return "", err
	}

	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", statusError(resp.StatusCode)
		}
		return "", fmt.Errorf("invalid upload response: %w", err)
	}
	if len(out.Errors) > 0 && out.Errors[0].Message != "" {
		// The server understood the request and refused it.
		return "", uploader.Permanent(errors.New(out.Errors[0].Message))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", statusError(resp.StatusCode)
	}
	if out.Data.UploadImage == "" {
		return "", ErrEmptyKey
	}
	return c.CDNOrigin + "/" + strings.TrimLeft(out.Data.UploadImage, "/"), nil
}

// statusError reports a failed HTTP status. Client errors other than
// timeouts and rate limits are permanent.
func statusError(code int) error {
	err := fmt.Errorf("upload failed: status %d", code)
	if code < http.StatusInternalServerError && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return uploader.Permanent(err)
	}
	return err
}

func encodeMultipart(filename string, data []byte, contentType string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	operations, err := json.Marshal(map[string]any{
		"query":     uploadMutation,
		"variables": map[string]any{"file": nil},
	})
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("operations", string(operations)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("map", `{"0":["variables.file"]}`); err != nil {
		return nil, "", err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="0"; filename=%q`, filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
