package sqldb

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"chalkboard/internal/model"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrDuplicateEmail  = errors.New("email already registered")
)

type AccountRepository struct {
	DB *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{DB: db}
}

func (r *AccountRepository) Create(ctx context.Context, a *model.Account) error {
	err := r.DB.WithContext(ctx).Create(a).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *AccountRepository) first(ctx context.Context, query string, args ...any) (*model.Account, error) {
	var a model.Account
	err := r.DB.WithContext(ctx).Where(query, args...).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepository) FindByUID(ctx context.Context, uid string) (*model.Account, error) {
	return r.first(ctx, "uid = ?", uid)
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *AccountRepository) FindByProvider(ctx context.Context, provider, subject string) (*model.Account, error) {
	return r.first(ctx, "provider = ? AND provider_subject = ?", provider, subject)
}

func (r *AccountRepository) updates(ctx context.Context, uid string, fields map[string]any) error {
	res := r.DB.WithContext(ctx).Model(&model.Account{}).Where("uid = ?", uid).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) UpdateDisplayName(ctx context.Context, uid, name string) error {
	return r.updates(ctx, uid, map[string]any{"display_name": name})
}

func (r *AccountRepository) MarkEmailVerified(ctx context.Context, uid string) error {
	return r.updates(ctx, uid, map[string]any{"email_verified": true})
}

// LinkProvider 已有密码账号首次用第三方登录时绑定 subject
func (r *AccountRepository) LinkProvider(ctx context.Context, uid, provider, subject string) error {
	return r.updates(ctx, uid, map[string]any{"provider": provider, "provider_subject": subject, "email_verified": true})
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, uid, hash string) error {
	return r.updates(ctx, uid, map[string]any{"password": hash})
}

func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.Account{}).Count(&n).Error
	return n, err
}
