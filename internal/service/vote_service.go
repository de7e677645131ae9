package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chalkboard/internal/docstore"
	"chalkboard/internal/model"
)

type VoteDeps struct {
	Store          docstore.Store
	Moderation     *ModerationService
	FilterComments bool
	Events         EventRecorder
	Log            *zap.SugaredLogger
}

// VoteService 维护每个用户的投票记录与帖子上的聚合字段（score、commentCount、reports）。
// 聚合字段各自用单 key 原子更新，和明细记录之间是最终一致，由 CountReconciler 兜底
type VoteService struct {
	store          docstore.Store
	mod            *ModerationService
	filterComments bool
	events         EventRecorder
	log            *zap.SugaredLogger
	now            func() time.Time
}

func NewVoteService(d VoteDeps) *VoteService {
	if d.Events == nil {
		d.Events = NopRecorder{}
	}
	return &VoteService{
		store:          d.Store,
		mod:            d.Moderation,
		filterComments: d.FilterComments,
		events:         d.Events,
		log:            d.Log,
		now:            time.Now,
	}
}

type VoteResult struct {
	PostID   string `json:"postId"`
	Previous int64  `json:"previous"`
	Current  int64  `json:"current"`
	Delta    int64  `json:"delta"`
	Score    int64  `json:"score"`
}

func validVote(v int64) bool { return v >= -1 && v <= 1 }

func (s *VoteService) requirePost(ctx context.Context, postID string) error {
	_, err := getPost(ctx, s.store, postID)
	return err
}

// CastVote 把当前用户的投票改为 value，并把差值原子地加到 score 上
func (s *VoteService) CastVote(ctx context.Context, postID string, actor *Identity, value int64) (*VoteResult, error) {
	if !validVote(value) {
		return nil, invalid("vote must be -1, 0 or 1")
	}
	return s.cast(ctx, postID, actor, func(int64) int64 { return value })
}

// ToggleVote 再次点击同一方向视为撤销
func (s *VoteService) ToggleVote(ctx context.Context, postID string, actor *Identity, clicked int64) (*VoteResult, error) {
	if clicked != 1 && clicked != -1 {
		return nil, invalid("vote must be -1 or 1")
	}
	return s.cast(ctx, postID, actor, func(prev int64) int64 {
		if prev == clicked {
			return 0
		}
		return clicked
	})
}

func (s *VoteService) cast(ctx context.Context, postID string, actor *Identity, decide func(prev int64) int64) (*VoteResult, error) {
	if err := s.mod.RequireActive(ctx, actor); err != nil {
		return nil, err
	}
	if err := s.requirePost(ctx, postID); err != nil {
		return nil, err
	}

	// 第一步：原子替换自己的投票并拿到旧值，重试时以最后一次提交为准
	var prev, next int64
	_, err := s.store.Update(ctx, votePath(postID, actor.UID), func(cur json.RawMessage) (any, error) {
		p, err := docstore.Int(cur)
		if err != nil {
			return nil, err
		}
		if !validVote(p) {
			p = 0
		}
		prev, next = p, decide(p)
		return next, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	res := &VoteResult{PostID: postID, Previous: prev, Current: next, Delta: next - prev}
	if res.Delta == 0 {
		raw, err := s.store.Get(ctx, postField(postID, "score"))
		if err != nil {
			return nil, storeErr(err)
		}
		res.Score, _ = docstore.Int(raw)
		return res, nil
	}

	// 第二步：score 单独做原子加法，避免多人同时投票时丢更新
	raw, err := s.store.Update(ctx, postField(postID, "score"), docstore.Increment(res.Delta, nil))
	if err != nil {
		s.log.Warnw("score update failed after vote record", "post", postID, "uid", actor.UID, "delta", res.Delta, "err", err)
		return nil, storeErr(err)
	}
	res.Score, _ = docstore.Int(raw)
	s.events.Record(ctx, EventVoteCast, postID, res)
	return res, nil
}

// MyVote 当前用户对帖子的投票，未投为 0
func (s *VoteService) MyVote(ctx context.Context, postID string, actor *Identity) (int64, error) {
	if actor == nil {
		return 0, ErrUnauthenticated
	}
	if err := s.requirePost(ctx, postID); err != nil {
		return 0, err
	}
	raw, err := s.store.Get(ctx, votePath(postID, actor.UID))
	if err != nil {
		return 0, storeErr(err)
	}
	v, err := docstore.Int(raw)
	if err != nil {
		return 0, storeErr(err)
	}
	return v, nil
}

func (s *VoteService) AddComment(ctx context.Context, postID string, actor *Identity, text string) (*model.Comment, error) {
	if err := s.mod.RequireActive(ctx, actor); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n == 0 || n > maxComment {
		return nil, invalid("comment must be 1-%d characters", maxComment)
	}
	if err := s.requirePost(ctx, postID); err != nil {
		return nil, err
	}
	if s.filterComments {
		text = s.mod.Filter(text)
	}

	id := uuid.NewString()
	c := &model.Comment{
		Text:       text,
		AuthorID:   actor.UID,
		AuthorName: actor.AuthorName(),
		CreatedAt:  s.now().UnixMilli(),
	}
	if err := s.store.Set(ctx, commentPath(postID, id), c); err != nil {
		return nil, storeErr(err)
	}
	// 评论与计数不在同一事务，计数失败时由对账修正
	if _, err := s.store.Update(ctx, postField(postID, "commentCount"), docstore.Increment(1, nil)); err != nil {
		s.log.Warnw("commentCount update failed", "post", postID, "comment", id, "err", err)
		return nil, storeErr(err)
	}
	c.ID, c.PostID = id, postID
	s.events.Record(ctx, EventCommentAdded, postID, map[string]any{"postId": postID, "commentId": id, "authorId": actor.UID})
	return c, nil
}

// ReportPost 举报计数 +1，返回新的举报数
func (s *VoteService) ReportPost(ctx context.Context, postID string, actor *Identity) (int64, error) {
	if err := s.mod.RequireActive(ctx, actor); err != nil {
		return 0, err
	}
	if err := s.requirePost(ctx, postID); err != nil {
		return 0, err
	}
	raw, err := s.store.Update(ctx, postField(postID, "reports"), docstore.Increment(1, nil))
	if err != nil {
		return 0, storeErr(err)
	}
	n, _ := docstore.Int(raw)
	s.events.Record(ctx, EventPostReported, postID, map[string]any{"postId": postID, "by": actor.UID, "reports": n})
	return n, nil
}

// Subscribe 推送 path 的完整快照：先推当前值，之后每次变化推一次
func (s *VoteService) Subscribe(ctx context.Context, path string) (*docstore.Subscription, error) {
	sub, err := s.store.Subscribe(ctx, path)
	if err != nil {
		return nil, storeErr(err)
	}
	return sub, nil
}

func (s *VoteService) WatchPost(ctx context.Context, postID string) (*docstore.Subscription, error) {
	return s.Subscribe(ctx, postPath(postID))
}

func (s *VoteService) WatchComments(ctx context.Context, postID string) (*docstore.Subscription, error) {
	return s.Subscribe(ctx, commentsPath(postID))
}

func (s *VoteService) WatchMyVote(ctx context.Context, postID, uid string) (*docstore.Subscription, error) {
	return s.Subscribe(ctx, votePath(postID, uid))
}
