package sqldb

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"chalkboard/internal/model"
)

type OutboxRepository struct {
	DB       *gorm.DB
	MaxRetry int
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{DB: db, MaxRetry: 10}
}

// Insert 写一条待投递事件
func (r *OutboxRepository) Insert(ctx context.Context, eventType, aggregate string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ev := &model.OutboxEvent{
		EventType: eventType,
		Aggregate: aggregate,
		Payload:   string(b),
		Status:    model.OutboxPending,
	}
	return r.DB.WithContext(ctx).Create(ev).Error
}

// List 查询待投递和可重试的事件
func (r *OutboxRepository) List(ctx context.Context, batchSize int) ([]model.OutboxEvent, error) {
	var list []model.OutboxEvent
	if err := r.DB.WithContext(ctx).
		Where("status = ? OR (status = ? AND retry < ?)", model.OutboxPending, model.OutboxFailed, r.MaxRetry).
		Order("id ASC").
		Limit(batchSize).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// RetryUpdate 投递失败，记录重试次数
func (r *OutboxRepository) RetryUpdate(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]any{"status": model.OutboxFailed, "retry": gorm.Expr("retry + 1")}).Error
}

// SuccessUpdate 投递成功
func (r *OutboxRepository) SuccessUpdate(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Update("status", model.OutboxSent).Error
}
