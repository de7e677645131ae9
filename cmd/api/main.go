package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"chalkboard/internal/blob"
	"chalkboard/internal/config"
	"chalkboard/internal/docstore"
	"chalkboard/internal/handler"
	"chalkboard/internal/middleware"
	"chalkboard/internal/pkg"
	redisrepo "chalkboard/internal/repository/redis"
	"chalkboard/internal/repository/sqldb"
	"chalkboard/internal/router"
	"chalkboard/internal/service"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}
	log, err := pkg.NewLogger(cfg.LogLevel, cfg.IsDev())
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatalw("server stopped", "err", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 连接数据库并自动建表
	db, err := sqldb.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	if err := sqldb.Migrate(db); err != nil {
		return err
	}

	// 连接 redis
	rdb, err := redisrepo.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store, err := docstore.NewRedisStore(ctx, rdb, docstore.Options{Namespace: cfg.StoreNS, MaxRetries: cfg.StoreRetries}, log)
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, uploadDir, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	var mailer pkg.Mailer = pkg.LogMailer{Log: log}
	if cfg.SMTP.Host != "" {
		mailer = pkg.NewSMTPMailer(pkg.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}

	var oauthCfg *oauth2.Config
	if cfg.GoogleEnabled() {
		oauthCfg = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		}
	}

	outbox := sqldb.NewOutboxRepository(db)
	events := service.NewOutboxRecorder(outbox, log)

	ids := service.NewIdentityService(service.IdentityDeps{
		Accounts: sqldb.NewAccountRepository(db),
		Tokens:   redisrepo.NewTokenRepository(rdb, cfg.SessionTTL),
		Codes:    redisrepo.NewCodeRepository(rdb),
		Issuer:   pkg.NewTokenIssuer(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTTL, cfg.RefreshTTL),
		Mailer:   mailer,
		OAuth:    oauthCfg,
		Events:   events,
		Log:      log,
	})
	mod := service.NewModerationService(service.ModerationDeps{
		Store:       store,
		Identity:    ids,
		Filter:      service.NewTextFilter(cfg.BannedTerms, cfg.FilterMask),
		AdminEmails: cfg.AdminEmails,
		Events:      events,
		Log:         log,
	})
	defer mod.BootstrapAdmins()()

	board := service.NewBoardService(service.BoardDeps{
		Store:          store,
		Blobs:          blobs,
		Moderation:     mod,
		Events:         events,
		Log:            log,
		MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
	})
	votes := service.NewVoteService(service.VoteDeps{
		Store:          store,
		Moderation:     mod,
		FilterComments: cfg.FilterComments,
		Events:         events,
		Log:            log,
	})
	reconciler := service.NewCountReconciler(store, cfg.ReconcileInterval, log)

	var sender service.Sender = service.LogSender(log)
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := pkg.NewKafkaProducer(pkg.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return err
		}
		defer producer.Close()
		sender = service.KafkaSender(producer)
	}
	relayer := service.NewOutboxRelayer(outbox, sender, log)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// 后台任务：对账、outbox 投递、限流表清理
	go reconciler.Run(ctx)
	go relayer.Run(ctx)
	go limiter.Cleanup(ctx)

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.InitRouter(router.Deps{
		Auth:       handler.NewAuthHandler(ids, mod, !cfg.IsDev(), log),
		Posts:      handler.NewPostHandler(board, votes, int64(cfg.MaxUploadMB)<<20, log),
		Votes:      handler.NewVoteHandler(votes, log),
		Admin:      handler.NewAdminHandler(mod, reconciler, log),
		WS:         handler.NewWSHandler(ids, votes, mod, cfg.CORSOrigin, log),
		Identity:   ids,
		Moderator:  mod,
		Limiter:    limiter,
		UploadDir:  uploadDir,
		CORSOrigin: cfg.CORSOrigin,
		Log:        log,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infow("http server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newBlobStore 配置了 S3 bucket 用 S3，否则写本地目录并由 /files 提供访问
func newBlobStore(cfg *config.Config) (blob.Store, string, error) {
	if cfg.S3Bucket != "" {
		s, err := blob.NewS3Store(blob.S3Config{Bucket: cfg.S3Bucket, Region: cfg.S3Region, Endpoint: cfg.S3Endpoint})
		return s, "", err
	}
	s, err := blob.NewLocalStore(cfg.UploadDir, cfg.UploadURL)
	if err != nil {
		return nil, "", err
	}
	return s, s.Dir(), nil
}
