// Package files stores uploaded cover images under opaque keys.
package files

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"boolpress/common"
)

// Store is the file storage collaborator.
type Store interface {
	// Put stores data under a new key beginning with prefix and returns the key.
	Put(ctx context.Context, prefix string, data []byte) (string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// URL returns where key can be fetched from.
	URL(key string) string
}

// New builds the Store selected by cfg.Driver.
func New(ctx context.Context, cfg common.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStore(cfg.Dir, cfg.BaseURL), nil
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// NewKey builds prefix/<content hash>-<random>.<ext>. The hash keeps keys of
// identical uploads recognisable, the random part keeps them distinct so
// deleting one post's cover never removes another's.
func NewKey(prefix string, data []byte) string {
	hash := fmt.Sprintf("%016x", xxhash.Sum64(data))
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	name := hash + "-" + id + mimetype.Detect(data).Extension()

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// IsImage reports whether data sniffs as an image.
func IsImage(data []byte) bool {
	return strings.HasPrefix(mimetype.Detect(data).String(), "image/")
}

// ContentType returns the sniffed MIME type of data.
func ContentType(data []byte) string {
	return mimetype.Detect(data).String()
}
