package service

import (
	"strings"
	"sync"

	"chalkboard/internal/model"
	"chalkboard/internal/pkg"
)

// Identity 当前操作者，所有写操作都需要它
type Identity struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
}

// AuthorName 没有昵称时用邮箱 @ 前面的部分
func (i *Identity) AuthorName() string {
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	if at := strings.IndexByte(i.Email, '@'); at > 0 {
		return i.Email[:at]
	}
	return i.Email
}

func identityOf(a *model.Account) *Identity {
	return &Identity{
		UID:           a.UID,
		Email:         a.Email,
		DisplayName:   a.DisplayName,
		EmailVerified: a.EmailVerified,
	}
}

type Session struct {
	Identity *Identity `json:"identity"`
	Tokens   *pkg.Pair `json:"tokens"`
}

// AuthState 登录态变化事件，Identity 为 nil 表示已登出
type AuthState struct {
	UID      string
	Identity *Identity
}

type authListeners struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(AuthState)
}

func (l *authListeners) add(fn func(AuthState)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(AuthState))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *authListeners) emit(st AuthState) {
	l.mu.RLock()
	fns := make([]func(AuthState), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(st)
	}
}
