package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"chalkboard/internal/docstore"
)

var errDriftMoved = errors.New("aggregate changed during reconcile")

// CountReconciler 对账：用 votes/comments 明细重算帖子的 score 和 commentCount。
// 投票和计数之间有短暂窗口，同一偏差要在连续两轮里都看到才修正
type CountReconciler struct {
	store    docstore.Store
	interval time.Duration
	log      *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string]drift
}

type drift struct {
	stored, real int64
}

// ReconcileReport 一轮对账结果
type ReconcileReport struct {
	Posts     int `json:"posts"`
	Drifted   int `json:"drifted"`
	Corrected int `json:"corrected"`
}

func NewCountReconciler(store docstore.Store, interval time.Duration, log *zap.SugaredLogger) *CountReconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CountReconciler{
		store:    store,
		interval: interval,
		log:      log,
		pending:  make(map[string]drift),
	}
}

// Run 对账定时任务
func (r *CountReconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rep, err := r.ReconcileOnce(ctx, false)
			if err != nil {
				r.log.Warnw("reconcile failed", "err", err)
				continue
			}
			if rep.Drifted > 0 {
				r.log.Infow("reconcile done", "posts", rep.Posts, "drifted", rep.Drifted, "corrected", rep.Corrected)
			}
		}
	}
}

// ReconcileOnce 对账一次；force 为 true 时不等第二轮确认直接修正
func (r *CountReconciler) ReconcileOnce(ctx context.Context, force bool) (*ReconcileReport, error) {
	raw, err := r.store.Get(ctx, "posts")
	if err != nil {
		return nil, storeErr(err)
	}
	var posts map[string]json.RawMessage
	if _, err := docstore.Decode(raw, &posts); err != nil {
		return nil, storeErr(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]drift)
	rep := &ReconcileReport{Posts: len(posts)}
	for id := range posts {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		realScore, err := r.sumVotes(ctx, id)
		if err != nil {
			r.log.Warnw("reconcile read votes failed", "post", id, "err", err)
			continue
		}
		realComments, err := r.countComments(ctx, id)
		if err != nil {
			r.log.Warnw("reconcile read comments failed", "post", id, "err", err)
			continue
		}
		for field, real := range map[string]int64{"score": realScore, "commentCount": realComments} {
			key := id + "/" + field
			d, fixed, err := r.check(ctx, key, postField(id, field), real, force)
			if err != nil {
				r.log.Warnw("reconcile field failed", "post", id, "field", field, "err", err)
				continue
			}
			if d == nil {
				continue
			}
			rep.Drifted++
			if fixed {
				rep.Corrected++
				r.log.Infow("aggregate corrected", "post", id, "field", field, "from", d.stored, "to", d.real)
				continue
			}
			seen[key] = *d
		}
	}
	r.pending = seen
	return rep, nil
}

// check 返回发现的偏差；只有上一轮记下了相同偏差（或 force）才写回
func (r *CountReconciler) check(ctx context.Context, key, path string, real int64, force bool) (*drift, bool, error) {
	cur, err := r.store.Get(ctx, path)
	if err != nil {
		return nil, false, err
	}
	stored, err := docstore.Int(cur)
	if err != nil {
		return nil, false, err
	}
	if stored == real {
		return nil, false, nil
	}
	d := drift{stored: stored, real: real}
	if prev, ok := r.pending[key]; !force && (!ok || prev != d) {
		return &d, false, nil
	}

	_, err = r.store.Update(ctx, path, func(cur json.RawMessage) (any, error) {
		n, err := docstore.Int(cur)
		if err != nil {
			return nil, err
		}
		if n != stored {
			return nil, errDriftMoved
		}
		return real, nil
	})
	if errors.Is(err, errDriftMoved) {
		return &d, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &d, true, nil
}

func (r *CountReconciler) sumVotes(ctx context.Context, postID string) (int64, error) {
	raw, err := r.store.Get(ctx, votesPath(postID))
	if err != nil {
		return 0, err
	}
	var votes map[string]int64
	if _, err := docstore.Decode(raw, &votes); err != nil {
		return 0, err
	}
	var sum int64
	for _, v := range votes {
		if validVote(v) {
			sum += v
		}
	}
	return sum, nil
}

func (r *CountReconciler) countComments(ctx context.Context, postID string) (int64, error) {
	raw, err := r.store.Get(ctx, commentsPath(postID))
	if err != nil {
		return 0, err
	}
	var comments map[string]json.RawMessage
	if _, err := docstore.Decode(raw, &comments); err != nil {
		return 0, err
	}
	return int64(len(comments)), nil
}
