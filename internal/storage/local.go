package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/service"
)

// LocalStore keeps uploads on the local filesystem under base/YYYY/MM/DD/.
// The token is the path relative to base.
type LocalStore struct {
	basePath string
	now      func() time.Time
}

var _ service.BlobStore = (*LocalStore)(nil)

func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve upload directory: %w", err)
	}
	return &LocalStore{basePath: abs, now: time.Now}, nil
}

func (s *LocalStore) Put(ctx context.Context, name string, data io.Reader) (string, int64, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return "", 0, fmt.Errorf("%w: bad file name", domain.ErrValidation)
	}
	now := s.now().UTC()
	rel := filepath.Join(
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()),
		name)
	filePath := filepath.Join(s.basePath, rel)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	// сначала во временный файл, потом атомарный rename
	tmpPath := filePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(f, ctxReader{ctx: ctx, r: data})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return "", 0, fmt.Errorf("rename upload: %w", err)
	}
	return filepath.ToSlash(rel), n, nil
}

func (s *LocalStore) Open(ctx context.Context, token string) (io.ReadCloser, error) {
	p, err := s.resolve(token)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file %s: %w", token, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, token string) error {
	p, err := s.resolve(token)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

// resolve не даёт токену выйти за basePath.
func (s *LocalStore) resolve(token string) (string, error) {
	p := filepath.Join(s.basePath, filepath.FromSlash(token))
	if token == "" || !strings.HasPrefix(p, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: bad storage token", domain.ErrValidation)
	}
	return p, nil
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
