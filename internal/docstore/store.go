// Package docstore is a hierarchical JSON document store with path-scoped
// subscriptions and single-path atomic read-modify-write.
//
// Writing an object at a path flattens it into one leaf per scalar field;
// reading a path assembles every leaf below it back into an object. Paths are
// slash-delimited, e.g. "posts/42/score".
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrTxContention is returned when an atomic update keeps conflicting
	// with concurrent writers after the configured number of attempts.
	ErrTxContention = errors.New("docstore: transaction contention")
	ErrClosed       = errors.New("docstore: closed")
)

// UpdateFunc receives the current value at a path (nil when absent) and
// returns the value to store. Returning nil deletes the path. A non-nil error
// aborts the update and is returned unchanged by Update.
type UpdateFunc func(current json.RawMessage) (any, error)

type Store interface {
	// Get returns the JSON value at path, or nil when nothing is stored there.
	Get(ctx context.Context, path string) (json.RawMessage, error)
	// Set overwrites path with value. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	Delete(ctx context.Context, path string) error
	// Update atomically replaces the value at path with fn(current), retrying
	// when a concurrent writer touches the path first. It returns the value
	// that was committed.
	Update(ctx context.Context, path string, fn UpdateFunc) (json.RawMessage, error)
	// Subscribe emits the current value at path immediately and again every
	// time it changes, until the subscription is closed or ctx is done.
	Subscribe(ctx context.Context, path string) (*Subscription, error)
	Close() error
}

// Decode 解析快照；absent 时返回 false 且不动 v
func Decode(raw json.RawMessage, v any) (bool, error) {
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, err
	}
	return true, nil
}

// Int 读取数值叶子，absent 视为 0
func Int(raw json.RawMessage) (int64, error) {
	var n int64
	if _, err := Decode(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Increment 返回一个把计数叶子加 delta 的 UpdateFunc。absent 时调用 onMissing，
// onMissing 为 nil 则从 0 开始计数
func Increment(delta int64, onMissing func() error) UpdateFunc {
	return func(cur json.RawMessage) (any, error) {
		if cur == nil && onMissing != nil {
			if err := onMissing(); err != nil {
				return nil, err
			}
		}
		n, err := Int(cur)
		if err != nil {
			return nil, err
		}
		return n + delta, nil
	}
}
