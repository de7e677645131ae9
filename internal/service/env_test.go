package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"chalkboard/internal/docstore"
	"chalkboard/internal/mocks"
	"chalkboard/internal/model"
	"chalkboard/internal/pkg"
	redisrepo "chalkboard/internal/repository/redis"
	"chalkboard/internal/repository/sqldb"
)

type recordedEvent struct {
	Type, Aggregate string
	Payload         any
}

type memRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *memRecorder) Record(_ context.Context, eventType, aggregate string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{eventType, aggregate, payload})
}

func (r *memRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	db       *gorm.DB
	store    docstore.Store
	mailer   *mocks.MockMailer
	events   *memRecorder
	identity *IdentityService
	mod      *ModerationService
	board    *BoardService
	votes    *VoteService
	log      *zap.SugaredLogger

	mu    sync.Mutex
	codes map[string]string // 收件人 -> 最近一次的验证码邮件正文
}

type envOption func(*IdentityDeps, *ModerationDeps, *VoteDeps)

func withAdminEmails(emails ...string) envOption {
	return func(_ *IdentityDeps, m *ModerationDeps, _ *VoteDeps) { m.AdminEmails = emails }
}

func withFilteredComments() envOption {
	return func(_ *IdentityDeps, _ *ModerationDeps, v *VoteDeps) { v.FilterComments = true }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop().Sugar()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 64})
	t.Cleanup(func() { _ = rdb.Close() })
	store, err := docstore.NewRedisStore(ctx, rdb, docstore.Options{Namespace: "t"}, log)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	db, err := sqldb.Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"), log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sqldb.Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	env := &testEnv{mr: mr, rdb: rdb, db: db, store: store, events: &memRecorder{}, log: log, codes: map[string]string{}}
	ctrl := gomock.NewController(t)
	env.mailer = mocks.NewMockMailer(ctrl)
	env.mailer.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, to, _, body string) error {
			env.mu.Lock()
			env.codes[to] = body
			env.mu.Unlock()
			return nil
		}).AnyTimes()

	idDeps := IdentityDeps{
		Accounts: sqldb.NewAccountRepository(db),
		Tokens:   redisrepo.NewTokenRepository(rdb, time.Hour),
		Codes:    redisrepo.NewCodeRepository(rdb),
		Issuer:   pkg.NewTokenIssuer("access-secret", "refresh-secret", time.Minute, time.Hour),
		Mailer:   env.mailer,
		Events:   env.events,
		Log:      log,
	}
	modDeps := ModerationDeps{
		Store:  store,
		Filter: NewTextFilter([]string{"slur1", "slur2", "curse"}, "***"),
		Events: env.events,
		Log:    log,
	}
	voteDeps := VoteDeps{Store: store, Events: env.events, Log: log}
	for _, o := range opts {
		o(&idDeps, &modDeps, &voteDeps)
	}

	env.identity = NewIdentityService(idDeps)
	modDeps.Identity = env.identity
	env.mod = NewModerationService(modDeps)
	env.board = NewBoardService(BoardDeps{Store: store, Moderation: env.mod, Events: env.events, Log: log, MaxUploadBytes: 1 << 20})
	voteDeps.Moderation = env.mod
	env.votes = NewVoteService(voteDeps)
	return env
}

func user(uid string) *Identity {
	return &Identity{UID: uid, Email: uid + "@example.com"}
}

// admin 直接写管理员标记，绕过授权检查
func (e *testEnv) admin(t *testing.T, uid string) *Identity {
	t.Helper()
	if err := e.store.Set(context.Background(), adminPath(uid), true); err != nil {
		t.Fatal(err)
	}
	return user(uid)
}

func (e *testEnv) post(t *testing.T, author *Identity, title string) *model.Post {
	t.Helper()
	p, err := e.board.CreatePost(context.Background(), author, title, "body of "+title, nil)
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	return p
}

func (e *testEnv) mailTo(addr string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.codes[addr]
}
