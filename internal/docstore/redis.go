package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultNamespace  = "cb"
	DefaultMaxRetries = 100
)

type Options struct {
	Namespace  string // key 前缀，多个实例/测试共用一个 redis 时隔离
	MaxRetries int    // WATCH 冲突时的最大重试次数
}

// RedisStore 文档树落在 redis 上：
//
//	<ns>:doc:<path>  叶子的 JSON 值
//	<ns>:idx:<path>  子节点名集合
//	<ns>:changes     每次提交后发布变更路径
type RedisStore struct {
	rdb        *redis.Client
	ns         string
	maxRetries int
	log        *zap.SugaredLogger
	hub        *hub
}

func NewRedisStore(ctx context.Context, rdb *redis.Client, opts Options, log *zap.SugaredLogger) (*RedisStore, error) {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	s := &RedisStore{
		rdb:        rdb,
		ns:         opts.Namespace,
		maxRetries: opts.MaxRetries,
		log:        log,
	}
	h, err := newHub(ctx, rdb, s.channel(), log)
	if err != nil {
		return nil, err
	}
	s.hub = h
	return s, nil
}

func (s *RedisStore) docKey(path string) string { return s.ns + ":doc:" + path }
func (s *RedisStore) idxKey(path string) string { return s.ns + ":idx:" + path }
func (s *RedisStore) channel() string           { return s.ns + ":changes" }

func (s *RedisStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	path, err := Clean(path)
	if err != nil {
		return nil, err
	}
	t := &tree{s: s, r: s.rdb}
	node, err := t.read(ctx, path)
	if err != nil {
		return nil, err
	}
	return encodeNode(node)
}

func (s *RedisStore) Set(ctx context.Context, path string, value any) error {
	_, err := s.Update(ctx, path, func(json.RawMessage) (any, error) {
		return value, nil
	})
	return err
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

func (s *RedisStore) Update(ctx context.Context, path string, fn UpdateFunc) (json.RawMessage, error) {
	path, err := Clean(path)
	if err != nil {
		return nil, err
	}
	anc := ancestors(path)
	// 祖先若是叶子，写入子路径时要删掉它，所以祖先叶子也要 WATCH
	watchKeys := make([]string, 0, len(anc))
	for _, a := range anc {
		watchKeys = append(watchKeys, s.docKey(a))
	}

	var committed json.RawMessage
	txf := func(tx *redis.Tx) error {
		t := &tree{
			s: s,
			r: tx,
			watch: func(ctx context.Context, keys ...string) error {
				return tx.Watch(ctx, keys...).Err()
			},
		}
		cur, err := t.read(ctx, path)
		if err != nil {
			return err
		}
		curRaw, err := encodeNode(cur)
		if err != nil {
			return err
		}
		next, err := fn(curRaw)
		if err != nil {
			return err
		}
		node, err := normalize(next)
		if err != nil {
			return err
		}
		p := &plan{}
		added, err := s.flatten(path, node, p)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(t.keys) > 0 {
				pipe.Del(ctx, t.keys...)
			}
			if added {
				child := path
				for _, a := range anc {
					_, seg, _ := parent(child)
					pipe.Del(ctx, s.docKey(a))
					pipe.SAdd(ctx, s.idxKey(a), seg)
					child = a
				}
			} else if len(anc) > 0 {
				_, seg, _ := parent(path)
				pipe.SRem(ctx, s.idxKey(anc[0]), seg)
			}
			for _, l := range p.leaves {
				pipe.Set(ctx, l.key, l.val, 0)
			}
			for _, m := range p.members {
				pipe.SAdd(ctx, m.key, m.member)
			}
			pipe.Publish(ctx, s.channel(), path)
			return nil
		})
		if err != nil {
			return err
		}
		committed = nil
		if added {
			committed, err = encodeNode(node)
		}
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := s.rdb.Watch(ctx, txf, watchKeys...)
		if err == nil {
			return committed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	s.log.Warnw("docstore update gave up", "path", path, "attempts", s.maxRetries)
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrTxContention, path, s.maxRetries)
}

func (s *RedisStore) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	path, err := Clean(path)
	if err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, path, func(ctx context.Context) (json.RawMessage, error) {
		return s.Get(ctx, path)
	})
}

// Close 只关闭订阅中心，redis client 由调用方负责
func (s *RedisStore) Close() error {
	return s.hub.close()
}

type keyReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// tree 递归读取一棵子树，事务内读之前先 WATCH
type tree struct {
	s     *RedisStore
	r     keyReader
	watch func(ctx context.Context, keys ...string) error
	keys  []string
}

func (t *tree) read(ctx context.Context, path string) (any, error) {
	dk, ik := t.s.docKey(path), t.s.idxKey(path)
	if t.watch != nil {
		if err := t.watch(ctx, dk, ik); err != nil {
			return nil, err
		}
	}
	t.keys = append(t.keys, dk, ik)

	raw, err := t.r.Get(ctx, dk).Bytes()
	if err == nil {
		return json.RawMessage(raw), nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	children, err := t.r.SMembers(ctx, ik).Result()
	if err != nil {
		return nil, err
	}
	obj := make(map[string]any, len(children))
	for _, c := range children {
		v, err := t.read(ctx, path+"/"+c)
		if err != nil {
			return nil, err
		}
		// 索引里可能残留已删除的子节点
		if v != nil {
			obj[c] = v
		}
	}
	if len(obj) == 0 {
		return nil, nil
	}
	return obj, nil
}

type leaf struct {
	key string
	val []byte
}

type member struct {
	key    string
	member string
}

type plan struct {
	leaves  []leaf
	members []member
}

// flatten 把值拆成叶子和索引，返回该路径下是否写入了任何东西
func (s *RedisStore) flatten(path string, node any, p *plan) (bool, error) {
	switch v := node.(type) {
	case nil:
		return false, nil
	case map[string]any:
		added := false
		for k, child := range v {
			if err := checkSegment(k); err != nil {
				return false, err
			}
			ok, err := s.flatten(path+"/"+k, child, p)
			if err != nil {
				return false, err
			}
			if ok {
				p.members = append(p.members, member{key: s.idxKey(path), member: k})
				added = true
			}
		}
		return added, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return false, err
		}
		p.leaves = append(p.leaves, leaf{key: s.docKey(path), val: b})
		return true, nil
	}
}

// normalize 把任意 Go 值转成 json 通用结构，数字保持原样
func normalize(value any) (any, error) {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if v == nil {
			return nil, nil
		}
		raw = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeNode(node any) (json.RawMessage, error) {
	if node == nil {
		return nil, nil
	}
	if raw, ok := node.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(node)
	if err != nil {
		return nil, err
	}
	return b, nil
}
