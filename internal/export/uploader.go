package export

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Object describes one stored artifact.
type Object struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Updated  time.Time `json:"updated"`
	Location string    `json:"location"`
}

// Uploader stores rendered artifacts in a bucket-like namespace.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
	List(ctx context.Context, prefix string) ([]Object, error)
}

// LocalDir is an Uploader rooted at a directory. Object names may contain
// "/" and map to subdirectories.
type LocalDir struct {
	root string
}

// NewLocalDir creates the root directory if needed.
func NewLocalDir(root string) (*LocalDir, error) {
	if root == "" {
		return nil, eris.New("export: local dir requires a path")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create %s", root)
	}
	return &LocalDir{root: root}, nil
}

func (d *LocalDir) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", eris.Errorf("export: invalid object name %q", name)
	}
	return filepath.Join(d.root, clean), nil
}

// Upload writes data atomically via a temp file and rename. It returns the
// file path.
func (d *LocalDir) Upload(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst, err := d.path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", eris.Wrap(err, "export: create object dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", eris.Wrap(err, "export: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return "", eris.Wrap(err, "export: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrap(err, "export: close temp file")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", eris.Wrap(err, "export: rename")
	}
	return dst, nil
}

// List returns stored objects whose name starts with prefix, sorted by name.
func (d *LocalDir) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		out = append(out, Object{Name: name, Size: info.Size(), Updated: info.ModTime().UTC(), Location: p})
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "export: list objects")
	}
	slices.SortFunc(out, func(a, b Object) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}
