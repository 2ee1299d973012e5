package media

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound covers every name that does not resolve to a stored asset,
// including names that try to leave the media root.
var ErrNotFound = errors.New("media not found")

var contentTypes = map[string]string{
	".wav":   "audio/wav",
	".mp3":   "audio/mpeg",
	".ulaw":  "audio/basic",
	".sln":   "audio/L16;rate=8000",
	".sln16": "audio/L16;rate=16000",
}

// Asset is one synthesized audio file. Assets are written once and never
// modified or evicted.
type Asset struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ContentTypeFor returns the MIME type served for a file extension.
func ContentTypeFor(ext string) string {
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Store keeps assets on local disk under one root and hands out the public
// URL the exchange fetches them from.
type Store struct {
	root          string
	publicBaseURL string
}

func NewStore(root, publicBaseURL string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid media root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media root: %w", err)
	}
	return &Store{
		root:          abs,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Put writes data under a fresh uuid name with the given extension.
func (s *Store) Put(data []byte, ext, contentType string) (Asset, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if strings.ContainsAny(ext, `/\`) {
		return Asset{}, fmt.Errorf("invalid media extension %q", ext)
	}
	if contentType == "" {
		contentType = ContentTypeFor(ext)
	}

	name := uuid.NewString() + ext
	f, err := os.OpenFile(filepath.Join(s.root, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Asset{}, fmt.Errorf("failed to create media file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return Asset{}, fmt.Errorf("failed to write media file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return Asset{}, fmt.Errorf("failed to write media file: %w", err)
	}

	return Asset{Name: name, ContentType: contentType, Size: int64(len(data))}, nil
}

// PublicURL is the absolute URL an asset is served at.
func (s *Store) PublicURL(name string) string {
	return s.publicBaseURL + "/media/" + url.PathEscape(name)
}

// Open resolves name strictly inside the root. The caller closes the file.
func (s *Store) Open(name string) (*os.File, os.FileInfo, error) {
	path, ok := s.resolve(name)
	if !ok {
		return nil, nil, ErrNotFound
	}

	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, nil, ErrNotFound
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, ErrNotFound
	}

	// The file must still be the one that was checked above.
	opened, err := f.Stat()
	if err != nil || !os.SameFile(info, opened) {
		f.Close()
		return nil, nil, ErrNotFound
	}

	return f, opened, nil
}

func (s *Store) resolve(name string) (string, bool) {
	if name == "" || name == "." || name == ".." {
		return "", false
	}
	if strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, "..") {
		return "", false
	}

	path := filepath.Join(s.root, name)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel != name {
		return "", false
	}
	return path, true
}
