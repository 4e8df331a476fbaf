package repository

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extraction limits applied to every archive.
var (
	MaxArchiveFiles       = 100_000
	MaxArchiveBytes int64 = 1 << 30
)

var archiveSuffixes = []string{".tar.gz", ".tgz", ".zip"}

// ArchiveSuffix returns the archive extension of name (".zip", ".tar.gz" or
// ".tgz"), or "" when name is not a supported archive.
func ArchiveSuffix(name string) string {
	lower := strings.ToLower(name)
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(lower, s) {
			return s
		}
	}
	return ""
}

// IsArchive reports whether source names a supported archive file.
func IsArchive(source string) bool {
	return !IsRemote(source) && ArchiveSuffix(source) != ""
}

// Extract unpacks the archive at archivePath into dest, which must not
// exist. When every entry sits under one top-level directory, that
// directory becomes dest. Entries with absolute paths or paths leaving dest
// fail the extraction with ErrUnsafeArchive; links and special files are
// skipped.
func Extract(ctx context.Context, archivePath, dest string) error {
	suffix := ArchiveSuffix(archivePath)
	if suffix == "" {
		return fmt.Errorf("%w: not an archive: %s", ErrInvalidSource, archivePath)
	}
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	staging, err := os.MkdirTemp(filepath.Dir(dest), "."+filepath.Base(dest)+"-extract-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	x := &extractor{ctx: ctx, root: staging}
	if suffix == ".zip" {
		err = x.zip(archivePath)
	} else {
		err = x.tarGz(archivePath)
	}
	if err != nil {
		return err
	}

	if err := os.Rename(topDir(staging), dest); err != nil {
		return fmt.Errorf("moving extracted tree: %w", err)
	}
	return nil
}

type extractor struct {
	ctx     context.Context
	root    string
	files   int
	written int64
}

func (x *extractor) zip(path string) error {
	zr, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return fmt.Errorf("%w: %v", ErrUnsafeArchive, err)
	}
	if err != nil {
		return fmt.Errorf("%w: opening zip: %v", ErrInvalidSource, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := x.mkdir(f.Name); err != nil {
				return err
			}
		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("%w: reading %s: %v", ErrInvalidSource, f.Name, err)
			}
			err = x.write(f.Name, rc)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *extractor) tarGz(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("%w: creating gzip reader: %v", ErrInvalidSource, err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %v", ErrUnsafeArchive, err)
		}
		if err != nil {
			return fmt.Errorf("%w: reading tar: %v", ErrInvalidSource, err)
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := x.mkdir(header.Name); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := x.write(header.Name, tr); err != nil {
				return err
			}
		}
	}
}

// target maps an entry name to a path inside the staging root.
func (x *extractor) target(name string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: entry %q escapes the destination", ErrUnsafeArchive, name)
	}
	return filepath.Join(x.root, rel), nil
}

func (x *extractor) mkdir(name string) error {
	path, err := x.target(name)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

func (x *extractor) write(name string, r io.Reader) error {
	path, err := x.target(name)
	if err != nil {
		return err
	}
	x.files++
	if x.files > MaxArchiveFiles {
		return fmt.Errorf("%w: more than %d files", ErrUnsafeArchive, MaxArchiveFiles)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", name, err)
	}

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", name, err)
	}
	budget := MaxArchiveBytes - x.written
	n, err := io.CopyN(out, r, budget+1)
	x.written += n
	if cerr := out.Close(); err == nil || errors.Is(err, io.EOF) {
		err = cerr
	}
	if x.written > MaxArchiveBytes {
		return fmt.Errorf("%w: uncompressed size exceeds %d bytes", ErrUnsafeArchive, MaxArchiveBytes)
	}
	if err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrInvalidSource, name, err)
	}
	return nil
}

// topDir returns the only directory inside dir when it holds nothing else,
// otherwise dir.
func topDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}
