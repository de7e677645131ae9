// Package blob stores uploaded images and hands back public URLs.
package blob

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrEmpty       = errors.New("blob: empty upload")
	ErrTooLarge    = errors.New("blob: upload too large")
	ErrUnsupported = errors.New("blob: unsupported content type")
)

// Handle 上传结果，Key 为存储内的对象路径
type Handle struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

//go:generate mockgen -source=blob.go -destination=../mocks/mock_blob.go -package=mocks

type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (Handle, error)
	PublicURL(h Handle) string
}

// cleanKey 去掉前导 / 和 .. 段，避免写出存储根目录
func cleanKey(key string) string {
	parts := strings.Split(strings.ReplaceAll(key, "\\", "/"), "/")
	out := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}
