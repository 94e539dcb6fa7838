package gcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/dustin/go-humanize"

	"image-editor/internal/uploader"
)

var (
	ErrBucketRequired = errors.New("bucket is required")
	ErrClientRequired = errors.New("storage client is required")
	ErrNameRequired   = errors.New("object name is required")
)

type Uploader struct {
	Client                *storage.Client
	Bucket                string
	Prefix                string
	MakePublic            bool
	AllowPublicACLFailure bool
	CacheControl          string
}

func NewUploader(client *storage.Client, bucket, prefix string, makePublic bool, allowPublicACLFailure bool) *Uploader {
	return &Uploader{
		Client:                client,
		Bucket:                bucket,
		Prefix:                strings.Trim(prefix, "/"),
		MakePublic:            makePublic,
		AllowPublicACLFailure: allowPublicACLFailure,
		CacheControl:          "public, max-age=31536000, immutable",
	}
}

func (u *Uploader) Upload(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	// Write the cropped image under a unique key and optionally make it public.
	if u.Client == nil {
		return "", ErrClientRequired
	}
	if u.Bucket == "" {
		return "", ErrBucketRequired
	}
	if filename == "" {
		return "", ErrNameRequired
	}

	objectName := uploader.ObjectName(u.Prefix, filename)
	obj := u.Client.Bucket(u.Bucket).Object(objectName)
	writer := obj.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	writer.CacheControl = u.CacheControl

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	slog.Debug("gcs: object written", "bucket", u.Bucket, "object", objectName, "size", humanize.IBytes(uint64(len(data))))

	if u.MakePublic {
		if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
			if u.AllowPublicACLFailure && strings.Contains(err.Error(), "uniform bucket-level access") {
				return publicURL(u.Bucket, objectName), nil
			}
			return "", err
		}
	}

	return publicURL(u.Bucket, objectName), nil
}

func publicURL(bucket, objectName string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, objectName)
}
