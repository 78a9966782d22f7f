// Package upload stages incoming file streams on disk under collision-free
// names so they can be scanned before anything is acknowledged.
package upload

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"quarantine-drop/internal/errs"
)

const maxExtLen = 16

// StagedFile is a file written to the staging directory awaiting a verdict.
type StagedFile struct {
	Path         string
	FieldName    string
	OriginalName string
	Size         int64
	ContentType  string
}

// Ingestor writes uploads into dir. It is safe for concurrent use.
type Ingestor struct {
	fs       afero.Fs
	dir      string
	maxBytes int64
	now      func() time.Time
}

// NewIngestor returns an Ingestor staging into dir on fsys. maxBytes <= 0
// disables the size cap.
func NewIngestor(fsys afero.Fs, dir string, maxBytes int64) *Ingestor {
	return &Ingestor{fs: fsys, dir: dir, maxBytes: maxBytes, now: time.Now}
}

// EnsureDir creates the staging directory if it is absent.
func (in *Ingestor) EnsureDir() error {
	if err := in.fs.MkdirAll(in.dir, 0o750); err != nil {
		return &errs.PersistenceError{Op: "create staging dir", Path: in.dir, Err: err}
	}
	return nil
}

// Ingest copies r into a freshly named file and returns its location. A nil
// reader or empty original name is errs.ErrNoFile; a stream over the size
// cap is errs.ErrTooLarge. Partial files are removed on any failure.
func (in *Ingestor) Ingest(ctx context.Context, r io.Reader, originalName, field string) (StagedFile, error) {
	if r == nil || strings.TrimSpace(originalName) == "" {
		return StagedFile{}, errs.ErrNoFile
	}
	if err := ctx.Err(); err != nil {
		return StagedFile{}, err
	}
	if err := in.EnsureDir(); err != nil {
		return StagedFile{}, err
	}

	name, err := in.stagedName(field, originalName)
	if err != nil {
		return StagedFile{}, fmt.Errorf("allocate name: %w", err)
	}
	path := filepath.Join(in.dir, name)

	f, err := in.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return StagedFile{}, &errs.PersistenceError{Op: "create staged file", Path: path, Err: err}
	}

	n, err := in.copy(ctx, f, r)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = &errs.PersistenceError{Op: "close staged file", Path: path, Err: cerr}
	}
	if err != nil {
		_ = in.fs.Remove(path)
		return StagedFile{}, err
	}

	return StagedFile{
		Path:         path,
		FieldName:    field,
		OriginalName: originalName,
		Size:         n,
		ContentType:  in.sniff(path),
	}, nil
}

func (in *Ingestor) copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	src = ctxReader{ctx: ctx, r: src}
	if in.maxBytes > 0 {
		src = io.LimitReader(src, in.maxBytes+1)
	}

	n, err := io.Copy(dst, src)
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		return n, errs.ErrTooLarge
	case err != nil && ctx.Err() != nil:
		return n, ctx.Err()
	case err != nil:
		return n, fmt.Errorf("write staged file: %w", err)
	case in.maxBytes > 0 && n > in.maxBytes:
		return n, errs.ErrTooLarge
	}
	return n, nil
}

func (in *Ingestor) sniff(path string) string {
	f, err := in.fs.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer func() { _ = f.Close() }()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

// stagedName builds "<field>-<unix millis>-<random>[.ext]". The random
// suffix keeps names distinct within one clock tick.
func (in *Ingestor) stagedName(field, originalName string) (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%d-%s", sanitizeField(field), in.now().UnixMilli(), hex.EncodeToString(b[:]))
	if ext := sanitizeExt(originalName); ext != "" {
		name += "." + ext
	}
	return name, nil
}

func sanitizeField(field string) string {
	var sb strings.Builder
	for _, r := range field {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			sb.WriteRune(r)
		}
		if sb.Len() >= 32 {
			break
		}
	}
	if sb.Len() == 0 {
		return "file"
	}
	return sb.String()
}

// sanitizeExt keeps [a-z0-9] of the original extension so attacker supplied
// names never reach the filesystem or the scanner's argv.
func sanitizeExt(originalName string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filepath.Base(originalName)), "."))
	var sb strings.Builder
	for _, r := range ext {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
		if sb.Len() >= maxExtLen {
			break
		}
	}
	return sb.String()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
