package docstore

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("docstore: invalid path")

// Clean 规范化路径：去掉首尾的 /，校验每一段
func Clean(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(path, "/") {
		if err := checkSegment(seg); err != nil {
			return "", err
		}
	}
	return path, nil
}

func checkSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}
	if strings.ContainsAny(seg, ".#$[]") {
		return fmt.Errorf("%w: segment %q contains a reserved character", ErrInvalidPath, seg)
	}
	return nil
}

// Join 拼接路径段，不做校验
func Join(segs ...string) string {
	return strings.Join(segs, "/")
}

func parent(path string) (string, string, bool) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path, false
	}
	return path[:i], path[i+1:], true
}

// ancestors 由近到远返回所有祖先路径
func ancestors(path string) []string {
	var out []string
	for {
		p, _, ok := parent(path)
		if !ok {
			return out
		}
		out = append(out, p)
		path = p
	}
}

// related 变更路径与订阅路径互为祖先/后代（或相等）时，订阅快照可能变化
func related(changed, watched string) bool {
	if changed == watched {
		return true
	}
	return strings.HasPrefix(changed, watched+"/") || strings.HasPrefix(watched, changed+"/")
}
