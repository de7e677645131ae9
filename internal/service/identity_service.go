package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"chalkboard/internal/model"
	"chalkboard/internal/pkg"
	redisrepo "chalkboard/internal/repository/redis"
	"chalkboard/internal/repository/sqldb"
)

const (
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	verifyScope       = "verify"
	maxDisplayName    = 64
	minPassword       = 6
	maxPassword       = 72 // bcrypt 只取前 72 字节
)

type IdentityDeps struct {
	Accounts    *sqldb.AccountRepository
	Tokens      *redisrepo.TokenRepository
	Codes       *redisrepo.CodeRepository
	Issuer      *pkg.TokenIssuer
	Mailer      pkg.Mailer
	OAuth       *oauth2.Config // nil 表示未开启第三方登录
	UserInfoURL string
	Events      EventRecorder
	Log         *zap.SugaredLogger
}

type IdentityService struct {
	accounts    *sqldb.AccountRepository
	tokens      *redisrepo.TokenRepository
	codes       *redisrepo.CodeRepository
	issuer      *pkg.TokenIssuer
	mailer      pkg.Mailer
	oauth       *oauth2.Config
	userInfoURL string
	events      EventRecorder
	log         *zap.SugaredLogger
	listeners   authListeners
}

func NewIdentityService(d IdentityDeps) *IdentityService {
	if d.UserInfoURL == "" {
		d.UserInfoURL = GoogleUserInfoURL
	}
	if d.Events == nil {
		d.Events = NopRecorder{}
	}
	return &IdentityService{
		accounts:    d.Accounts,
		tokens:      d.Tokens,
		codes:       d.Codes,
		issuer:      d.Issuer,
		mailer:      d.Mailer,
		oauth:       d.OAuth,
		userInfoURL: d.UserInfoURL,
		events:      d.Events,
		log:         d.Log,
	}
}

// OnAuthStateChanged 注册登录态监听，返回取消函数
func (s *IdentityService) OnAuthStateChanged(fn func(AuthState)) func() {
	return s.listeners.add(fn)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateCredentials 只做格式校验，不查库
func (s *IdentityService) ValidateCredentials(email, password string) error {
	if !govalidator.IsEmail(normalizeEmail(email)) {
		return invalid("malformed email")
	}
	if n := len(password); n < minPassword || n > maxPassword {
		return invalid("password must be %d-%d characters", minPassword, maxPassword)
	}
	return nil
}

// CreateAccount 创建密码账号并直接登录
func (s *IdentityService) CreateAccount(ctx context.Context, email, password string) (*Session, error) {
	acc, err := s.createPasswordAccount(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, acc)
}

// createPasswordAccount 只落库不登录
func (s *IdentityService) createPasswordAccount(ctx context.Context, email, password string) (*model.Account, error) {
	if err := s.ValidateCredentials(email, password); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, sqldb.ErrAccountNotFound) {
		return nil, storeErr(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	acc := &model.Account{
		UID:      uuid.NewString(),
		Email:    email,
		Password: string(hash),
		Provider: model.ProviderPassword,
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		if errors.Is(err, sqldb.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, storeErr(err)
	}
	s.events.Record(ctx, EventAccountCreated, acc.UID, map[string]any{"uid": acc.UID, "provider": acc.Provider})
	return acc, nil
}

func (s *IdentityService) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	acc, err := s.accounts.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, sqldb.ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if acc.Password == "" {
		// 只绑定过第三方登录的账号
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.startSession(ctx, acc)
}

func (s *IdentityService) ProviderAuthURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrProviderDisabled
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

type providerUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

// SignInWithProvider 用 OAuth 授权码登录；首次登录自动建号，同邮箱的密码账号自动绑定
func (s *IdentityService) SignInWithProvider(ctx context.Context, code string) (*Session, error) {
	if s.oauth == nil {
		return nil, ErrProviderDisabled
	}
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %w", ErrUnauthenticated, err)
	}
	resp, err := s.oauth.Client(ctx, tok).Get(s.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo: %w", ErrUnauthenticated, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo status %d", ErrUnauthenticated, resp.StatusCode)
	}
	var u providerUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("%w: userinfo decode: %w", ErrUnauthenticated, err)
	}
	if u.ID == "" || u.Email == "" {
		return nil, fmt.Errorf("%w: userinfo missing id or email", ErrUnauthenticated)
	}

	acc, err := s.accounts.FindByProvider(ctx, model.ProviderGoogle, u.ID)
	if err == nil {
		return s.startSession(ctx, acc)
	}
	if !errors.Is(err, sqldb.ErrAccountNotFound) {
		return nil, storeErr(err)
	}

	email := normalizeEmail(u.Email)
	acc, err = s.accounts.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if !u.VerifiedEmail {
			return nil, fmt.Errorf("%w: provider email not verified", ErrUnauthenticated)
		}
		if err := s.accounts.LinkProvider(ctx, acc.UID, model.ProviderGoogle, u.ID); err != nil {
			return nil, storeErr(err)
		}
		acc.EmailVerified = true
		return s.startSession(ctx, acc)
	case !errors.Is(err, sqldb.ErrAccountNotFound):
		return nil, storeErr(err)
	}

	acc = &model.Account{
		UID:             uuid.NewString(),
		Email:           email,
		DisplayName:     truncateRunes(strings.TrimSpace(u.Name), maxDisplayName),
		EmailVerified:   u.VerifiedEmail,
		Provider:        model.ProviderGoogle,
		ProviderSubject: u.ID,
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		return nil, storeErr(err)
	}
	s.events.Record(ctx, EventAccountCreated, acc.UID, map[string]any{"uid": acc.UID, "provider": acc.Provider})
	return s.startSession(ctx, acc)
}

func (s *IdentityService) startSession(ctx context.Context, acc *model.Account) (*Session, error) {
	pair, err := s.issuer.GeneratePair(acc.UID)
	if err != nil {
		return nil, err
	}
	// 新 token 覆盖旧 token，其他端随之失效
	if err := s.tokens.Save(ctx, acc.UID, pair.AccessToken); err != nil {
		return nil, storeErr(err)
	}
	ident := identityOf(acc)
	s.listeners.emit(AuthState{UID: acc.UID, Identity: ident})
	s.events.Record(ctx, EventSignedIn, acc.UID, map[string]any{"uid": acc.UID})
	return &Session{Identity: ident, Tokens: pair}, nil
}

// Authenticate 校验 access token 并滑动续期，返回当前身份
func (s *IdentityService) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.issuer.ParseAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	stored, err := s.tokens.Get(ctx, claims.UID)
	if errors.Is(err, redisrepo.ErrTokenNotFound) {
		return nil, fmt.Errorf("%w: session expired", ErrUnauthenticated)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if stored != accessToken {
		return nil, fmt.Errorf("%w: account signed in elsewhere", ErrUnauthenticated)
	}
	if err := s.tokens.Extend(ctx, claims.UID); err != nil {
		return nil, storeErr(err)
	}
	acc, err := s.accounts.FindByUID(ctx, claims.UID)
	if errors.Is(err, sqldb.ErrAccountNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return identityOf(acc), nil
}

// Refresh 用 refresh token 换一对新 token，并登记新的 access
func (s *IdentityService) Refresh(ctx context.Context, refreshToken string) (*pkg.Pair, error) {
	claims, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if _, err := s.accounts.FindByUID(ctx, claims.UID); err != nil {
		if errors.Is(err, sqldb.ErrAccountNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, storeErr(err)
	}
	pair, err := s.issuer.GeneratePair(claims.UID)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Save(ctx, claims.UID, pair.AccessToken); err != nil {
		return nil, storeErr(err)
	}
	return pair, nil
}

func (s *IdentityService) SignOut(ctx context.Context, uid string) error {
	if err := s.tokens.Delete(ctx, uid); err != nil {
		return storeErr(err)
	}
	s.listeners.emit(AuthState{UID: uid})
	s.events.Record(ctx, EventSignedOut, uid, map[string]any{"uid": uid})
	return nil
}

// Lookup 按 uid 取身份
func (s *IdentityService) Lookup(ctx context.Context, uid string) (*Identity, error) {
	acc, err := s.accounts.FindByUID(ctx, uid)
	if errors.Is(err, sqldb.ErrAccountNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return identityOf(acc), nil
}

func (s *IdentityService) UpdateProfile(ctx context.Context, uid, displayName string) (*Identity, error) {
	displayName = strings.TrimSpace(displayName)
	if n := utf8.RuneCountInString(displayName); n == 0 || n > maxDisplayName {
		return nil, invalid("display name must be 1-%d characters", maxDisplayName)
	}
	if err := s.accounts.UpdateDisplayName(ctx, uid, displayName); err != nil {
		if errors.Is(err, sqldb.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	ident, err := s.Lookup(ctx, uid)
	if err != nil {
		return nil, err
	}
	s.listeners.emit(AuthState{UID: uid, Identity: ident})
	return ident, nil
}

// SendVerification 发送邮箱验证码：先写 pending，邮件发出后再转 confirmed
func (s *IdentityService) SendVerification(ctx context.Context, uid string) error {
	ident, err := s.Lookup(ctx, uid)
	if err != nil {
		return err
	}
	if ident.EmailVerified {
		return nil
	}
	code, err := pkg.NewCode()
	if err != nil {
		return err
	}
	if err := s.codes.SavePending(ctx, verifyScope, uid, code); err != nil {
		return storeErr(err)
	}

	html := pkg.EmailCodeHTML("email verification", code, s.codes.TTL)
	if err := s.mailer.Send(ctx, ident.Email, "Verify your ChalkBoard email", html); err != nil {
		_ = s.codes.DeletePending(ctx, verifyScope, uid)
		return err
	}
	if err := s.codes.Confirm(ctx, verifyScope, uid); err != nil {
		_ = s.codes.DeletePending(ctx, verifyScope, uid)
		return storeErr(err)
	}
	return nil
}

func (s *IdentityService) VerifyEmail(ctx context.Context, uid, code string) (*Identity, error) {
	code = strings.TrimSpace(code)
	if !pkg.ValidCode(code) {
		return nil, ErrInvalidCode
	}
	ok, err := s.codes.Consume(ctx, verifyScope, uid, code)
	if errors.Is(err, redisrepo.ErrCodeNotFound) || (err == nil && !ok) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if err := s.accounts.MarkEmailVerified(ctx, uid); err != nil {
		return nil, storeErr(err)
	}
	ident, err := s.Lookup(ctx, uid)
	if err != nil {
		return nil, err
	}
	s.listeners.emit(AuthState{UID: uid, Identity: ident})
	return ident, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
