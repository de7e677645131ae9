package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Snapshot is the full value at a subscribed path. Value is nil when the path
// holds nothing. Err is set when the value could not be read; the
// subscription stays open and retries on the next change.
type Snapshot struct {
	Path  string
	Value json.RawMessage
	Err   error
}

type Subscription struct {
	path    string
	fetch   func(context.Context) (json.RawMessage, error)
	out     chan Snapshot
	notify  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	onClose func(*Subscription)
}

func (s *Subscription) Path() string { return s.path }

// C 快照通道，订阅关闭后通道被关闭
func (s *Subscription) C() <-chan Snapshot { return s.out }

// Close 取消订阅并释放资源，可重复调用
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		s.onClose(s)
	})
}

// poke 合并通知：缓冲满说明已有待处理的刷新
func (s *Subscription) poke() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.out)
	defer s.Close()

	var last json.RawMessage
	first := true
	for {
		v, err := s.fetch(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			if !s.send(Snapshot{Path: s.path, Err: err}) {
				return
			}
		case first || !bytes.Equal(v, last):
			first = false
			last = v
			if !s.send(Snapshot{Path: s.path, Value: v}) {
				return
			}
		}
		select {
		case <-s.ctx.Done():
			return
		case <-s.notify:
		}
	}
}

func (s *Subscription) send(snap Snapshot) bool {
	select {
	case s.out <- snap:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// hub 一个 redis 订阅连接，分发给本进程内的所有 Subscription
type hub struct {
	ps     *redis.PubSub
	log    *zap.SugaredLogger
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func newHub(ctx context.Context, rdb *redis.Client, channel string, log *zap.SugaredLogger) (*hub, error) {
	ps := rdb.Subscribe(ctx, channel)
	// 等订阅确认后再返回，避免丢掉第一批变更
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("docstore: subscribe %s: %w", channel, err)
	}
	h := &hub{
		ps:   ps,
		log:  log,
		subs: make(map[*Subscription]struct{}),
		done: make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h, nil
}

func (h *hub) run() {
	defer h.wg.Done()
	ch := h.ps.Channel()
	for {
		select {
		case <-h.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.dispatch(msg.Payload)
		}
	}
}

func (h *hub) dispatch(changed string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if related(changed, s.path) {
			s.poke()
		}
	}
}

func (h *hub) subscribe(ctx context.Context, path string, fetch func(context.Context) (json.RawMessage, error)) (*Subscription, error) {
	sctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		path:    path,
		fetch:   fetch,
		out:     make(chan Snapshot),
		notify:  make(chan struct{}, 1),
		ctx:     sctx,
		cancel:  cancel,
		onClose: h.remove,
	}

	// 先登记再读取初始值，登记之后的变更一定会触发刷新
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.run()
	return s, nil
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *hub) close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	close(h.done)
	err := h.ps.Close()
	h.wg.Wait()
	h.log.Debugw("docstore hub closed", "subscriptions", len(subs))
	return err
}
