// Package mediastore stores post attachments. Objects are addressed by the
// hash of their bytes under an owner directory, so re-uploading the same
// file is idempotent and cleanup can be computed from the stored paths.
package mediastore

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Object is a stored blob.
type Object struct {
	Path        string
	URL         string
	Size        int64
	ContentType string
}

// Storage is the object storage collaborator.
type Storage interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (Object, error)
	// Delete is idempotent.
	Delete(ctx context.Context, path string) error
}

// Upload is a file waiting to be attached to a post.
type Upload struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

var ErrEmptyUpload = errors.New("empty upload")

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/heic":      ".heic",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
}

// Path returns the content-addressed location of data under dir, e.g.
// posts/<postID>/<hash>.jpg.
func Path(dir string, data []byte, contentType string) string {
	sum := blake2b.Sum256(data)
	ext, ok := extensions[strings.ToLower(contentType)]
	if !ok {
		ext = ".bin"
	}
	return strings.TrimSuffix(dir, "/") + "/" + hex.EncodeToString(sum[:16]) + ext
}

// PostDir is the directory holding the media of one post.
func PostDir(postID string) string {
	return "posts/" + postID
}
