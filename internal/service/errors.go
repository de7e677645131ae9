package service

import (
	"context"
	"errors"
	"fmt"

	"chalkboard/internal/docstore"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidInvite      = errors.New("invalid invite code")
	ErrNotFound           = errors.New("not found")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrBanned             = errors.New("user is banned")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrProviderDisabled   = errors.New("provider sign-in is not configured")
)

var domainErrors = []error{
	ErrUnauthenticated, ErrInvalidInvite, ErrNotFound, ErrStoreUnavailable, ErrBanned,
	ErrForbidden, ErrInvalidInput, ErrInvalidCredentials, ErrEmailTaken, ErrInvalidCode,
	ErrProviderDisabled, context.Canceled, context.DeadlineExceeded,
}

// storeErr 把底层存储错误归为 ErrStoreUnavailable，业务错误原样返回
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	for _, e := range domainErrors {
		if errors.Is(err, e) {
			return err
		}
	}
	if errors.Is(err, docstore.ErrInvalidPath) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
