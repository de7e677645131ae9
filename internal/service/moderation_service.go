package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chalkboard/internal/docstore"
	"chalkboard/internal/model"
)

const inviteCodeLen = 6

type ModerationDeps struct {
	Store       docstore.Store
	Identity    *IdentityService
	Filter      *TextFilter
	AdminEmails []string
	Events      EventRecorder
	Log         *zap.SugaredLogger
}

type ModerationService struct {
	store       docstore.Store
	identity    *IdentityService
	filter      *TextFilter
	adminEmails map[string]struct{}
	events      EventRecorder
	log         *zap.SugaredLogger
	now         func() time.Time
}

func NewModerationService(d ModerationDeps) *ModerationService {
	if d.Events == nil {
		d.Events = NopRecorder{}
	}
	emails := make(map[string]struct{}, len(d.AdminEmails))
	for _, e := range d.AdminEmails {
		emails[normalizeEmail(e)] = struct{}{}
	}
	return &ModerationService{
		store:       d.Store,
		identity:    d.Identity,
		filter:      d.Filter,
		adminEmails: emails,
		events:      d.Events,
		log:         d.Log,
		now:         time.Now,
	}
}

func banPath(uid string) string     { return docstore.Join("bans", uid) }
func adminPath(uid string) string   { return docstore.Join("admins", uid) }
func invitePath(code string) string { return docstore.Join("invites", code) }

func (s *ModerationService) Filter(text string) string {
	return s.filter.Apply(text)
}

func (s *ModerationService) exists(ctx context.Context, path string) (bool, error) {
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return false, storeErr(err)
	}
	return raw != nil, nil
}

func (s *ModerationService) IsBanned(ctx context.Context, uid string) (bool, error) {
	if uid == "" {
		return false, nil
	}
	return s.exists(ctx, banPath(uid))
}

func (s *ModerationService) IsAdmin(ctx context.Context, uid string) (bool, error) {
	if uid == "" {
		return false, nil
	}
	return s.exists(ctx, adminPath(uid))
}

// WatchBanned 订阅封禁状态，立即推送当前值
func (s *ModerationService) WatchBanned(ctx context.Context, uid string) (*FlagWatch, error) {
	return watchFlag(ctx, s.store, banPath(uid))
}

func (s *ModerationService) WatchAdmin(ctx context.Context, uid string) (*FlagWatch, error) {
	return watchFlag(ctx, s.store, adminPath(uid))
}

// RequireActive 写操作前置条件：已登录且未被封禁
func (s *ModerationService) RequireActive(ctx context.Context, actor *Identity) error {
	if actor == nil || actor.UID == "" {
		return ErrUnauthenticated
	}
	banned, err := s.IsBanned(ctx, actor.UID)
	if err != nil {
		return err
	}
	if banned {
		return ErrBanned
	}
	return nil
}

func (s *ModerationService) requireAdmin(ctx context.Context, actor *Identity) error {
	if err := s.RequireActive(ctx, actor); err != nil {
		return err
	}
	ok, err := s.IsAdmin(ctx, actor.UID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (s *ModerationService) BanUser(ctx context.Context, actor *Identity, uid string) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if uid == "" || uid == actor.UID {
		return invalid("cannot ban this user")
	}
	ban := model.Ban{BannedAt: s.now().UnixMilli(), BannedBy: actor.UID}
	if err := s.store.Set(ctx, banPath(uid), ban); err != nil {
		return storeErr(err)
	}
	s.log.Infow("user banned", "uid", uid, "by", actor.UID)
	s.events.Record(ctx, EventUserBanned, uid, map[string]any{"uid": uid, "by": actor.UID, "at": ban.BannedAt})
	return nil
}

func (s *ModerationService) UnbanUser(ctx context.Context, actor *Identity, uid string) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, banPath(uid)); err != nil {
		return storeErr(err)
	}
	s.events.Record(ctx, EventUserUnbanned, uid, map[string]any{"uid": uid, "by": actor.UID})
	return nil
}

func (s *ModerationService) GrantAdmin(ctx context.Context, actor *Identity, uid string) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if uid == "" {
		return invalid("empty uid")
	}
	return storeErr(s.store.Set(ctx, adminPath(uid), true))
}

func (s *ModerationService) RevokeAdmin(ctx context.Context, actor *Identity, uid string) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if uid == actor.UID {
		return invalid("cannot revoke your own admin flag")
	}
	return storeErr(s.store.Delete(ctx, adminPath(uid)))
}

// BootstrapAdmins 配置里的管理员邮箱在验证过的账号登录时自动获得管理员标记
func (s *ModerationService) BootstrapAdmins() func() {
	if len(s.adminEmails) == 0 || s.identity == nil {
		return func() {}
	}
	return s.identity.OnAuthStateChanged(func(st AuthState) {
		if st.Identity == nil || !st.Identity.EmailVerified {
			return
		}
		if _, ok := s.adminEmails[normalizeEmail(st.Identity.Email)]; !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Set(ctx, adminPath(st.UID), true); err != nil {
			s.log.Errorw("bootstrap admin failed", "uid", st.UID, "err", err)
			return
		}
		s.log.Infow("bootstrap admin granted", "uid", st.UID)
	})
}

// GenerateInvite 生成 6 位邀请码，只在该码不存在时写入
func (s *ModerationService) GenerateInvite(ctx context.Context, actor *Identity) (*model.Invite, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	inv := &model.Invite{CreatedAt: s.now().UnixMilli(), CreatedBy: actor.UID}
	for attempt := 0; attempt < 5; attempt++ {
		code := strings.ReplaceAll(uuid.NewString(), "-", "")[:inviteCodeLen]
		taken := false
		_, err := s.store.Update(ctx, invitePath(code), func(cur json.RawMessage) (any, error) {
			taken = cur != nil
			if taken {
				return cur, nil
			}
			return model.Invite{CreatedAt: inv.CreatedAt, CreatedBy: inv.CreatedBy}, nil
		})
		if err != nil {
			return nil, storeErr(err)
		}
		if !taken {
			inv.Code = code
			s.events.Record(ctx, EventInviteCreated, code, map[string]any{"code": code, "by": actor.UID})
			return inv, nil
		}
	}
	return nil, storeErr(errors.New("could not allocate a unique invite code"))
}

func (s *ModerationService) ListInvites(ctx context.Context, actor *Identity) ([]model.Invite, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	raw, err := s.store.Get(ctx, "invites")
	if err != nil {
		return nil, storeErr(err)
	}
	var m map[string]model.Invite
	if _, err := docstore.Decode(raw, &m); err != nil {
		return nil, storeErr(err)
	}
	out := make([]model.Invite, 0, len(m))
	for code, inv := range m {
		inv.Code = code
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (s *ModerationService) RevokeInvite(ctx context.Context, actor *Identity, code string) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if _, err := docstore.Clean(code); err != nil {
		return ErrNotFound
	}
	return storeErr(s.store.Delete(ctx, invitePath(code)))
}

func validInviteCode(code string) bool {
	if code == "" || strings.Contains(code, "/") {
		return false
	}
	_, err := docstore.Clean(code)
	return err == nil
}

func (s *ModerationService) inviteExists(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if !validInviteCode(code) {
		return ErrInvalidInvite
	}
	ok, err := s.exists(ctx, invitePath(code))
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidInvite
	}
	return nil
}

// takeInvite 原子地读取并删除邀请码，不存在返回 ErrInvalidInvite
func (s *ModerationService) takeInvite(ctx context.Context, code string) (json.RawMessage, error) {
	code = strings.TrimSpace(code)
	if !validInviteCode(code) {
		return nil, ErrInvalidInvite
	}
	var taken json.RawMessage
	_, err := s.store.Update(ctx, invitePath(code), func(cur json.RawMessage) (any, error) {
		if cur == nil {
			return nil, ErrInvalidInvite
		}
		taken = cur
		return nil, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return taken, nil
}

// SignUp 邀请码注册：先原子占用邀请码再建号，建号失败时归还邀请码；
// 设置昵称和发送验证邮件失败不影响已创建的账号
func (s *ModerationService) SignUp(ctx context.Context, email, password, displayName, inviteCode string) (*Session, error) {
	// 邀请码不存在时不做任何其他检查
	if err := s.inviteExists(ctx, inviteCode); err != nil {
		return nil, err
	}
	if err := s.identity.ValidateCredentials(email, password); err != nil {
		return nil, err
	}
	invite, err := s.takeInvite(ctx, inviteCode)
	if err != nil {
		return nil, err
	}

	acc, err := s.identity.createPasswordAccount(ctx, email, password)
	if err != nil {
		if rerr := s.store.Set(ctx, invitePath(strings.TrimSpace(inviteCode)), invite); rerr != nil {
			s.log.Errorw("restore invite failed", "code", inviteCode, "err", rerr)
		}
		return nil, err
	}
	// 账号已落库，邀请码不再归还；会话失败时用户可以直接登录
	sess, err := s.identity.startSession(ctx, acc)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(displayName); name != "" {
		ident, err := s.identity.UpdateProfile(ctx, sess.Identity.UID, name)
		if err != nil {
			s.log.Warnw("signup profile update failed", "uid", sess.Identity.UID, "err", err)
		} else {
			sess.Identity = ident
		}
	}
	if err := s.identity.SendVerification(ctx, sess.Identity.UID); err != nil {
		s.log.Warnw("signup verification mail failed", "uid", sess.Identity.UID, "err", err)
	}
	return sess, nil
}

// FlagWatch 存在性订阅：路径有值为 true
type FlagWatch struct {
	C    <-chan bool
	sub  *docstore.Subscription
	done chan struct{}
	once sync.Once
}

func (w *FlagWatch) Close() {
	w.once.Do(func() {
		close(w.done)
		w.sub.Close()
	})
}

func watchFlag(ctx context.Context, store docstore.Store, path string) (*FlagWatch, error) {
	sub, err := store.Subscribe(ctx, path)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make(chan bool)
	w := &FlagWatch{C: out, sub: sub, done: make(chan struct{})}
	go func() {
		defer close(out)
		last, first := false, true
		for snap := range sub.C() {
			if snap.Err != nil {
				continue
			}
			v := snap.Value != nil
			if !first && v == last {
				continue
			}
			first, last = false, v
			select {
			case out <- v:
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}
