// Package media resolves media references for narrative inputs. References
// are paths relative to a media root directory.
package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"stagehand/internal/engine"
	"stagehand/internal/logging"
)

// ErrOutsideRoot is returned when a reference escapes the media root.
var ErrOutsideRoot = errors.New("media reference escapes the media root")

// LocalStorage serves media objects from a directory on disk.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates storage rooted at dir. The directory is created
// if missing.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media root: %w", err)
	}
	return &LocalStorage{root: abs}, nil
}

// Fetch loads the referenced object. The ref is a path relative to the
// media root; absolute paths and parent traversal are rejected.
func (s *LocalStorage) Fetch(ctx context.Context, ref string) (*engine.MediaObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.root, filepath.FromSlash(ref))
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media ref %q: %w", ref, err)
	}
	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, ref)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read media %q: %w", ref, err)
	}

	logging.Media("Fetched %q: %d bytes", ref, len(data))
	return &engine.MediaObject{
		Ref:  ref,
		Mime: detectMime(resolved, data),
		Data: data,
	}, nil
}

// detectMime prefers the file extension, falling back to content sniffing.
func detectMime(path string, data []byte) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		if idx := strings.Index(mt, ";"); idx > 0 {
			return mt[:idx]
		}
		return mt
	}
	return http.DetectContentType(data)
}
