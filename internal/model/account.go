package model

import "time"

const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

// Account 身份账号，uid 是文档库里所有用户相关路径的键
type Account struct {
	ID              uint64 `gorm:"primaryKey"`
	UID             string `gorm:"uniqueIndex;size:36;not null"`
	Email           string `gorm:"uniqueIndex;size:128;not null"`
	Password        string `gorm:"size:255;not null;default:''"` // bcrypt，第三方登录账号为空
	DisplayName     string `gorm:"size:64;not null;default:''"`
	EmailVerified   bool   `gorm:"not null;default:false"`
	Provider        string `gorm:"size:16;not null;default:'password'"`
	ProviderSubject string `gorm:"size:128;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Account) TableName() string { return "accounts" }
