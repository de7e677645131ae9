package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore 开发环境用，文件写到本地目录，由 gin 静态路由提供访问
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, baseURL: baseURL}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Upload(ctx context.Context, key string, data []byte, contentType string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	key = cleanKey(key)
	if key == "" || len(data) == 0 {
		return Handle{}, ErrEmpty
	}
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Handle{}, err
	}
	// 先写临时文件再 rename，读者看不到半截文件
	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Handle{}, err
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return Handle{}, err
	}
	return Handle{Key: key, ContentType: contentType, Size: int64(len(data))}, nil
}

func (s *LocalStore) PublicURL(h Handle) string {
	return s.baseURL + "/" + h.Key
}
