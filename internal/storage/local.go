package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local stores artifacts below a directory on the manager host.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("local storage: root path is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("local storage: create root: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root is the absolute directory artifacts live under.
func (l *Local) Root() string { return l.root }

// Rel converts an absolute path below Root into a storage key.
func (l *Local) Rel(abs string) (string, bool) {
	rel, err := filepath.Rel(l.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (l *Local) abs(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(Key(p)))
}

func (l *Local) MoveTo(_ context.Context, localPath, dest string) error {
	target := l.abs(dest)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", dest, err)
	}
	if err := os.Rename(localPath, target); err == nil {
		return nil
	}
	// rename fails across filesystems
	if err := copyFile(localPath, target); err != nil {
		return fmt.Errorf("move %s to %s: %w", localPath, dest, err)
	}
	return os.Remove(localPath)
}

func (l *Local) Delete(_ context.Context, p string) error {
	if err := os.Remove(l.abs(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func (l *Local) ListFiles(_ context.Context, prefix string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, ok := l.Rel(p)
		if ok && strings.HasPrefix(rel, Key(prefix)) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (l *Local) Fetch(_ context.Context, p string) (string, func(), error) {
	target := l.abs(p)
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("%s: %w", p, ErrNotExist)
		}
		return "", nil, err
	}
	return target, func() {}, nil
}

func (l *Local) Open(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := os.Open(l.abs(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	return f, err
}

func (l *Local) Exists(_ context.Context, p string) (bool, error) {
	_, err := os.Stat(l.abs(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *Local) Size(_ context.Context, p string) (int64, error) {
	info, err := os.Stat(l.abs(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", p, ErrNotExist)
		}
		return 0, err
	}
	return info.Size(), nil
}

func (l *Local) PresignedLink(context.Context, string, time.Duration) (string, error) {
	return "", ErrLinkNotSupported
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
