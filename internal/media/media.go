// Package media stores the photo and audio blobs that arrive base64-encoded
// on a contact payload. Records keep only the returned reference.
package media

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"regexp"
	"strings"
)

// ErrNotFound is returned by Open for an unknown reference.
var ErrNotFound = errors.New("media not found")

// Store persists blobs under opaque references.
type Store interface {
	// Put stores data and returns its reference. name must be unique.
	Put(ctx context.Context, name string, data []byte) (string, error)
	// Open streams a stored blob.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Delete removes a blob. Deleting an unknown ref is not an error.
	Delete(ctx context.Context, ref string) error
}

var refPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidRef reports whether ref is a well-formed reference. Refs are used as
// file names and object keys, so anything that could escape is rejected.
func ValidRef(ref string) bool {
	return refPattern.MatchString(ref) && !strings.Contains(ref, "..")
}

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"audio/mpeg":      ".mp3",
	"audio/wave":      ".wav",
	"audio/wav":       ".wav",
	"audio/ogg":       ".ogg",
	"application/ogg": ".ogg",
	"video/mp4":       ".m4a",
	"audio/mp4":       ".m4a",
}

// refFor appends an extension derived from the sniffed content type.
func refFor(name string, data []byte) (string, string) {
	ct := http.DetectContentType(data)
	base := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	ext, ok := extensions[base]
	if !ok {
		ext = ".bin"
	}
	return name + ext, ct
}

// ContentType guesses the MIME type of a stored blob from its reference.
func ContentType(ref string) string {
	switch ext := path.Ext(ref); ext {
	case ".bin", "":
		return "application/octet-stream"
	case ".m4a":
		return "audio/mp4"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}
