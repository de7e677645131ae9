package model

import "time"

const (
	OutboxPending int8 = 0
	OutboxSent    int8 = 1
	OutboxFailed  int8 = 2
)

// OutboxEvent 领域事件表，由 OutboxRelayer 异步投递到 kafka
type OutboxEvent struct {
	ID        uint64 `gorm:"primaryKey"`
	EventType string `gorm:"size:32;not null;index"`
	Aggregate string `gorm:"size:64;not null"` // post id / uid，作为 kafka 分区键
	Payload   string `gorm:"type:text;not null"`
	Status    int8   `gorm:"not null;default:0;index;comment:'0=pending,1=sent,2=failed'"`
	Retry     int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OutboxEvent) TableName() string { return "outbox_events" }
