// Package files stores uploaded documents on the local filesystem and
// produces their PDF renditions.
//
// Conversion is simulated: the source file is copied to the PDF location.
package files

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// LocalStorage keeps uploads under one directory and PDFs under another.
type LocalStorage struct {
	uploadPath string
	pdfPath    string
	logger     *slog.Logger
}

// Option configures a LocalStorage.
type Option interface {
	applyLocal(*LocalStorage)
}

type optionFunc func(*LocalStorage)

func (f optionFunc) applyLocal(s *LocalStorage) { f(s) }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *LocalStorage) {
		if l != nil {
			s.logger = l
		}
	})
}

// NewLocalStorage creates both directories if needed.
func NewLocalStorage(uploadPath, pdfPath string, opts ...Option) (*LocalStorage, error) {
	s := &LocalStorage{uploadPath: uploadPath, pdfPath: pdfPath, logger: slog.Default()}
	for _, opt := range opts {
		opt.applyLocal(s)
	}
	for _, dir := range []string{uploadPath, pdfPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create directory %s", dir)
		}
	}
	return s, nil
}

// UploadPath returns the upload directory.
func (s *LocalStorage) UploadPath() string {
	return s.uploadPath
}

// Save writes r under a fresh name that keeps the extension of name.
// It returns the stored file name and its path.
func (s *LocalStorage) Save(ctx context.Context, name string, r io.Reader) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	stored := uuid.New().String() + strings.ToLower(filepath.Ext(filepath.Base(name)))
	path := filepath.Join(s.uploadPath, stored)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", "", errors.Wrapf(err, "create %s", path)
	}
	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: r}); err != nil {
		f.Close()
		os.Remove(path)
		return "", "", errors.WithDetailf(errors.Wrap(err, "write upload"), "file %s", name)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", "", errors.Wrapf(err, "close %s", path)
	}

	s.logger.Info("file saved", "path", path)
	return stored, path, nil
}

// Delete removes the file at path. A missing file is not an error.
func (s *LocalStorage) Delete(_ context.Context, path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "delete %s", path)
	}
	if err == nil {
		s.logger.Info("file deleted", "path", path)
	}
	return nil
}

// ListOlderThan returns the paths of upload files last modified before threshold.
func (s *LocalStorage) ListOlderThan(ctx context.Context, threshold time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.uploadPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", s.uploadPath)
	}
	var out []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed concurrently
		}
		if info.ModTime().Before(threshold) {
			out = append(out, filepath.Join(s.uploadPath, entry.Name()))
		}
	}
	return out, nil
}

// PDFPath returns where the PDF rendition of a stored file is written.
func (s *LocalStorage) PDFPath(storedName string) string {
	base := filepath.Base(storedName)
	return filepath.Join(s.pdfPath, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
}

// Convert produces the PDF at dst from src.
func (s *LocalStorage) Convert(ctx context.Context, src, dst string) error {
	s.logger.Info("converting document", "src", src, "dst", dst)

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "write pdf")
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "close %s", tmp)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rename to %s", dst)
	}
	return nil
}

// Check verifies both directories are writable.
func (s *LocalStorage) Check(_ context.Context) error {
	for _, dir := range []string{s.uploadPath, s.pdfPath} {
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return errors.Wrapf(err, "directory %s not writable", dir)
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
