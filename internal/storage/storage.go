// Package storage provides temporary and persistent artifact storage.
// It defines the Storage port used by the batch assembler and the pipeline
// runner, with implementations for local disk and S3.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// Storage defines temporary file handling and persistent publication of
// generated artifacts (speech audio, assembled videos).
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Download fetches a remote artifact into a temporary file.
	Download(ctx context.Context, url, name string) (path string, err error)

	// Publish stores data under key and returns a URL clients can fetch it from.
	Publish(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}

// Key builds an artifact key "<kind>/<id><ext>".
func Key(kind, id, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(kind, id+ext)
}

// ExtensionFor returns the file extension for a content type.
func ExtensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch ct {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	default:
		return ".bin"
	}
}

// ContentTypeFor returns the content type for a key's extension, or ""
// when it is not one ExtensionFor produces.
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".mp4":
		return "video/mp4"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return ""
	}
}

// DownloadError reports a non-2xx response while fetching an artifact.
type DownloadError struct {
	URL        string
	StatusCode int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: status %d", e.URL, e.StatusCode)
}
