// Package archive packs a single artifact into a zip file and back.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrEmptyArchive = errors.New("archive has no entries")

// Compress writes src as the only entry of a new zip archive at dst.
func Compress(src, dst string) error {
	return CompressAs(src, dst, filepath.Base(src))
}

// CompressAs is Compress with an explicit entry name.
func CompressAs(src, dst, name string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	zw := zip.NewWriter(out)
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header: %w", err)
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zip entry: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("compress %s: %w", src, err)
	}
	return zw.Close()
}

// ExtractFirst writes the first entry of the archive at src into dir and
// returns the extracted file's path.
func ExtractFirst(src, dir string) (string, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", src, err)
	}
	defer zr.Close()

	if len(zr.File) == 0 {
		return "", fmt.Errorf("%s: %w", src, ErrEmptyArchive)
	}
	entry := zr.File[0]

	name := filepath.Base(entry.Name)
	if name == "." || name == "/" || strings.Contains(name, "..") {
		return "", fmt.Errorf("archive entry %q has an invalid name", entry.Name)
	}

	rc, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("open entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	f, err := os.CreateTemp(dir, "restore-*-"+name)
	if err != nil {
		return "", fmt.Errorf("create extract target: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// IsCompressed reports whether p names a zip archive.
func IsCompressed(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), ".zip")
}
