package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/limits"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound indicates an unknown file name.
	ErrNotFound = errors.New("file not found")

	// ErrClosed indicates use of a closed backend.
	ErrClosed = errors.New("storage backend closed")
)

// sniffLen is the number of bytes inspected to detect the content type.
const sniffLen = 512

// Backend implements backend.StorageBackend.
type Backend struct {
	dir       string
	index     *index
	thumbSize backend.Size
	maxSize   int64
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithMaxSize overrides limits.MaxFileSize.
func WithMaxSize(n int64) Option {
	return func(b *Backend) {
		if n > 0 {
			b.maxSize = n
		}
	}
}

// New opens the storage under cfg.FilesDir and cfg.FilesIndex.
func New(cfg backend.Config, opts ...Option) (*Backend, error) {
	dir := cfg.FilesDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create files directory: %w", err)
	}
	ix, err := openIndex(cfg.FilesIndex())
	if err != nil {
		return nil, err
	}

	b := &Backend{
		dir:       dir,
		index:     ix,
		thumbSize: cfg.ThumbnailSize,
		maxSize:   limits.MaxFileSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"dir":      dir,
	}).Debug("Storage backend opened")
	return b, nil
}

func (b *Backend) contentPath(id string) string {
	return filepath.Join(b.dir, id)
}

// Put stores the contents of r under name, replacing any previous file.
func (b *Backend) Put(ctx context.Context, name string, r io.Reader) (backend.FileInfo, error) {
	if err := limits.ValidateFileName(name); err != nil {
		return backend.FileInfo{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.FileInfo{}, ErrClosed
	}

	id := uuid.NewString()
	tmp, err := os.CreateTemp(b.dir, ".upload-*")
	if err != nil {
		return backend.FileInfo{}, fmt.Errorf("create upload file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	head := &bytes.Buffer{}
	n, err := io.Copy(tmp, io.TeeReader(io.LimitReader(&ctxReader{ctx: ctx, r: r}, b.maxSize+1), &capWriter{buf: head, max: sniffLen}))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return backend.FileInfo{}, fmt.Errorf("write upload: %w", err)
	}
	if n > b.maxSize {
		return backend.FileInfo{}, fmt.Errorf("%w: %s exceeds %d bytes", limits.ErrFileTooLarge, name, b.maxSize)
	}

	info := backend.FileInfo{
		ID:          id,
		Name:        name,
		Size:        n,
		ContentType: http.DetectContentType(head.Bytes()),
		Created:     b.now().UTC(),
	}
	if strings.HasPrefix(info.ContentType, "image/") {
		if f, err := os.Open(tmpName); err == nil {
			info.Thumbnail = thumbnail(f, b.thumbSize)
			f.Close()
		}
	}

	if err := os.Rename(tmpName, b.contentPath(id)); err != nil {
		return backend.FileInfo{}, fmt.Errorf("store upload: %w", err)
	}

	previous, lookupErr := b.index.lookup(ctx, name)
	if err := b.index.upsert(ctx, info); err != nil {
		os.Remove(b.contentPath(id))
		return backend.FileInfo{}, err
	}
	if lookupErr == nil {
		os.Remove(b.contentPath(previous.ID))
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Put",
		"name":         name,
		"size":         n,
		"content_type": info.ContentType,
		"thumbnail":    len(info.Thumbnail) > 0,
	}).Debug("File stored")
	return info, nil
}

// Get opens the stored file. The caller closes the reader.
func (b *Backend) Get(ctx context.Context, name string) (io.ReadCloser, backend.FileInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, backend.FileInfo{}, ErrClosed
	}

	info, err := b.index.lookup(ctx, name)
	if err != nil {
		return nil, backend.FileInfo{}, err
	}
	f, err := os.Open(b.contentPath(info.ID))
	if err != nil {
		return nil, backend.FileInfo{}, fmt.Errorf("open stored file: %w", err)
	}
	return f, info, nil
}

// List returns every stored file ordered by name.
func (b *Backend) List(ctx context.Context) ([]backend.FileInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.index.list(ctx)
}

// Remove deletes a stored file.
func (b *Backend) Remove(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	info, err := b.index.lookup(ctx, name)
	if err != nil {
		return err
	}
	if err := b.index.remove(ctx, name); err != nil {
		return err
	}
	if err := os.Remove(b.contentPath(info.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function": "Remove",
			"name":     name,
			"error":    err.Error(),
		}).Warn("Failed to remove stored file contents")
	}
	return nil
}

// Close closes the index.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.close()
}

// ctxReader stops reading once ctx ends.
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

// capWriter keeps the first max bytes written to it.
type capWriter struct {
	buf *bytes.Buffer
	max int
}

func (c *capWriter) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		c.buf.Write(p[:min(room, len(p))])
	}
	return len(p), nil
}
