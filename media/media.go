package media

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// File is a raw attachment waiting to be stored.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Uploader stores a file and returns an opaque reference (its public URL).
type Uploader interface {
	Upload(ctx context.Context, owner primitive.ObjectID, f File) (string, error)
}

// objectKey builds "<folder>/<owner>/<yyyymmdd>/<uuid><ext>".
func objectKey(folder string, owner primitive.ObjectID, name string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(name))
	parts := []string{strings.Trim(folder, "/"), owner.Hex(), now.UTC().Format("20060102"), uuid.NewString() + ext}
	if parts[0] == "" {
		parts = parts[1:]
	}
	return strings.Join(parts, "/")
}
