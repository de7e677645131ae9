package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chalkboard/internal/model"
	"chalkboard/internal/pkg"
	"chalkboard/internal/repository/sqldb"
)

const (
	EventPostCreated    = "post.created"
	EventCommentAdded   = "comment.added"
	EventVoteCast       = "vote.cast"
	EventPostReported   = "post.reported"
	EventUserBanned     = "user.banned"
	EventUserUnbanned   = "user.unbanned"
	EventInviteCreated  = "invite.created"
	EventAccountCreated = "account.created"
	EventSignedIn       = "auth.signed_in"
	EventSignedOut      = "auth.signed_out"
)

// EventRecorder 记录领域事件。文档库与 SQL 不在同一事务里，记录失败只打日志
type EventRecorder interface {
	Record(ctx context.Context, eventType, aggregate string, payload any)
}

type NopRecorder struct{}

func (NopRecorder) Record(context.Context, string, string, any) {}

// OutboxRecorder 写 outbox 表，由 OutboxRelayer 投递
type OutboxRecorder struct {
	repo *sqldb.OutboxRepository
	log  *zap.SugaredLogger
}

func NewOutboxRecorder(repo *sqldb.OutboxRepository, log *zap.SugaredLogger) *OutboxRecorder {
	return &OutboxRecorder{repo: repo, log: log}
}

func (r *OutboxRecorder) Record(ctx context.Context, eventType, aggregate string, payload any) {
	if err := r.repo.Insert(ctx, eventType, aggregate, payload); err != nil {
		r.log.Warnw("outbox insert failed", "type", eventType, "aggregate", aggregate, "err", err)
	}
}

type Sender func(ctx context.Context, ev *model.OutboxEvent) error

// OutboxRelayer outbox表相关服务
type OutboxRelayer struct {
	repo      *sqldb.OutboxRepository
	batchSize int
	interval  time.Duration
	sender    Sender
	log       *zap.SugaredLogger
}

func NewOutboxRelayer(repo *sqldb.OutboxRepository, sender Sender, log *zap.SugaredLogger) *OutboxRelayer {
	return &OutboxRelayer{
		repo:      repo,
		batchSize: 200,
		interval:  time.Second,
		sender:    sender,
		log:       log,
	}
}

// Run outbox启动器
func (r *OutboxRelayer) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.DrainOnce(ctx)
		}
	}
}

// DrainOnce 从数据库读取一批事件交给 sender，返回成功条数
func (r *OutboxRelayer) DrainOnce(ctx context.Context) int {
	rows, err := r.repo.List(ctx, r.batchSize)
	if err != nil {
		r.log.Errorw("outbox query failed", "err", err)
		return 0
	}
	sent := 0
	for i := range rows {
		ev := rows[i]
		if err = r.sender(ctx, &ev); err != nil {
			r.log.Warnw("outbox send failed", "id", ev.ID, "type", ev.EventType, "retry", ev.Retry, "err", err)
			_ = r.repo.RetryUpdate(ctx, ev.ID)
			continue
		}
		_ = r.repo.SuccessUpdate(ctx, ev.ID)
		sent++
	}
	return sent
}

// KafkaSender 以聚合 id 为 key 投递，同一帖子的事件进同一分区
func KafkaSender(p *pkg.KafkaProducer) Sender {
	return func(ctx context.Context, ev *model.OutboxEvent) error {
		return p.Send(ctx, ev.Aggregate, []byte(ev.Payload), map[string]string{"type": ev.EventType})
	}
}

// LogSender 未配置 kafka 时使用
func LogSender(log *zap.SugaredLogger) Sender {
	return func(_ context.Context, ev *model.OutboxEvent) error {
		log.Infow("outbox event", "id", ev.ID, "type", ev.EventType, "aggregate", ev.Aggregate, "payload", ev.Payload)
		return nil
	}
}
