// Package storage defines the media backend used for report attachments.
//
// Backends register themselves with the factory from an init() function in their own
// package, and cmd/server blank-imports each backend it ships:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"
)

// Storage is a flat object store keyed by slash-separated paths
type Storage interface {
	// Upload stores reader at path and returns its size and SHA256 checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// GetURL returns a download URL. Cloud backends presign it for ttl.
	GetURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult describes a stored object
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFileName reduces a client-supplied file name to a safe single path segment
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if len(name) > 128 {
		name = name[len(name)-128:]
	}
	return name
}

// MediaPath is the object path of a report attachment. Every path is prefixed by the owning
// team so one team's objects never share a prefix with another's.
func MediaPath(teamID, reportID, mediaID, fileName string) string {
	return fmt.Sprintf("teams/%s/reports/%s/%s-%s", teamID, reportID, mediaID, SanitizeFileName(fileName))
}
