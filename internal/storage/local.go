package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidKey is returned for keys that are empty or escape the public
// directory.
var ErrInvalidKey = errors.New("storage: invalid key")

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage on local disk. Published artifacts live in
// a public directory and are served by the API under /files/.
type LocalStorage struct {
	tempDir       string
	publicDir     string
	publicBaseURL string
	httpClient    *http.Client
}

// LocalOption configures a LocalStorage.
type LocalOption func(*LocalStorage)

// WithPublicDir sets the directory published artifacts are written to.
func WithPublicDir(dir string) LocalOption {
	return func(s *LocalStorage) {
		s.publicDir = dir
	}
}

// WithPublicBaseURL sets the URL prefix returned by Publish.
func WithPublicBaseURL(base string) LocalOption {
	return func(s *LocalStorage) {
		s.publicBaseURL = strings.TrimRight(base, "/")
	}
}

// WithDownloadClient sets the HTTP client used by Download.
func WithDownloadClient(c *http.Client) LocalOption {
	return func(s *LocalStorage) {
		s.httpClient = c
	}
}

// NewLocalStorage creates a new LocalStorage instance.
// If tempDir is empty, os.TempDir()/videoforge is used. The public directory
// defaults to "<tempDir>/public". Both are created if they don't exist.
func NewLocalStorage(tempDir string, opts ...LocalOption) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "videoforge")
	}

	s := &LocalStorage{
		tempDir:       tempDir,
		publicBaseURL: "http://localhost:8080",
		httpClient:    &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publicDir == "" {
		s.publicDir = filepath.Join(tempDir, "public")
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	if err := os.MkdirAll(s.publicDir, 0750); err != nil {
		return nil, fmt.Errorf("create public directory: %w", err)
	}

	return s, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// PublicDir returns the directory published artifacts are stored in.
func (s *LocalStorage) PublicDir() string {
	return s.publicDir
}

// SaveTemp saves data to a temporary file and returns the file path.
// The name is used as a base for the filename with a unique suffix.
func (s *LocalStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.tempDir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// LoadTemp reads a temporary file and returns a reader.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStorage) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}

	return f, nil
}

// CleanupTemp removes the specified temporary files.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// Download fetches url into a temporary file named after name.
func (s *LocalStorage) Download(ctx context.Context, url, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	return s.SaveTemp(ctx, name, resp.Body)
}

// Publish writes data to "<publicDir>/<key>" and returns
// "<publicBaseURL>/files/<key>".
func (s *LocalStorage) Publish(ctx context.Context, key, _ string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dst, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".publish_*")
	if err != nil {
		return "", fmt.Errorf("create artifact file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("store artifact: %w", err)
	}

	return s.publicBaseURL + "/files/" + filepath.ToSlash(filepath.Clean(key)), nil
}

// Open returns a published artifact by key.
func (s *LocalStorage) Open(key string) (*os.File, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(p) // #nosec G304 - resolved inside publicDir
}

func (s *LocalStorage) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	rel := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(rel) || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.publicDir, rel), nil
}
