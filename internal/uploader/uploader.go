package uploader

import (
	"context"
	"path"

	"github.com/google/uuid"
)

// Uploader stores data under objectName and returns the URL it is served from.
type Uploader interface {
	Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// Func adapts a function to Uploader.
type Func func(ctx context.Context, objectName string, data []byte, contentType string) (string, error)

func (f Func) Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	return f(ctx, objectName, data, contentType)
}

// ObjectName keys a file under prefix with a random directory so repeated
// uploads of the same filename never collide.
func ObjectName(prefix, filename string) string {
	return path.Join(prefix, uuid.NewString(), filename)
}
