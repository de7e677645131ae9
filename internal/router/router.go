package router

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chalkboard/internal/handler"
	"chalkboard/internal/middleware"
)

// Deps 路由依赖的全部 handler 与中间件组件
type Deps struct {
	Auth      *handler.AuthHandler
	Posts     *handler.PostHandler
	Votes     *handler.VoteHandler
	Admin     *handler.AdminHandler
	WS        *handler.WSHandler
	Identity  middleware.Authenticator
	Moderator middleware.Moderator
	Limiter   *middleware.RateLimiter
	// UploadDir 非空时以 /files 提供本地上传文件
	UploadDir  string
	CORSOrigin string
	Log        *zap.SugaredLogger
}

func InitRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.AccessLog(d.Log), middleware.SecurityHeaders())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{d.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: d.CORSOrigin != "*",
	}))

	auth := middleware.AuthMiddleware(d.Identity)
	active := middleware.ActiveMiddleware(d.Moderator)
	limit := middleware.RateLimitMiddleware(d.Limiter)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "ok"})
	})
	if d.UploadDir != "" {
		r.Static("/files", d.UploadDir)
	}

	// 账号相关接口
	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/signup", limit, d.Auth.SignUp)
		authGroup.POST("/signin", limit, d.Auth.SignIn)
		authGroup.GET("/google/login", d.Auth.GoogleLogin)
		authGroup.GET("/google/callback", d.Auth.GoogleCallback)
		authGroup.POST("/refresh", limit, d.Auth.Refresh)
	}

	// 登录态接口
	sessionGroup := r.Group("/api/auth")
	sessionGroup.Use(auth)
	{
		sessionGroup.POST("/signout", d.Auth.SignOut)
		sessionGroup.POST("/verify/send", limit, d.Auth.SendVerification)
		sessionGroup.POST("/verify", limit, d.Auth.Verify)
		sessionGroup.PATCH("/profile", d.Auth.UpdateProfile)
		sessionGroup.GET("/me", d.Auth.Me)
	}

	// 帖子相关接口，读写都需要登录且未封禁
	postGroup := r.Group("/api/posts")
	postGroup.Use(auth, active)
	{
		postGroup.GET("", d.Posts.List)
		postGroup.GET("/:id", d.Posts.Get)
		postGroup.GET("/:id/comments", d.Posts.Comments)
		postGroup.GET("/:id/vote", d.Votes.Mine)

		postGroup.POST("", limit, d.Posts.Create)
		postGroup.POST("/:id/comments", limit, d.Posts.AddComment)
		postGroup.PUT("/:id/vote", limit, d.Votes.Cast)
		postGroup.POST("/:id/vote/toggle", limit, d.Votes.Toggle)
		postGroup.POST("/:id/report", limit, d.Posts.Report)
	}

	// 管理接口
	adminGroup := r.Group("/api/admin")
	adminGroup.Use(auth, middleware.AdminMiddleware(d.Moderator))
	{
		adminGroup.POST("/bans/:uid", d.Admin.Ban)
		adminGroup.DELETE("/bans/:uid", d.Admin.Unban)
		adminGroup.POST("/invites", d.Admin.CreateInvite)
		adminGroup.GET("/invites", d.Admin.ListInvites)
		adminGroup.DELETE("/invites/:code", d.Admin.RevokeInvite)
		adminGroup.POST("/admins/:uid", d.Admin.GrantAdmin)
		adminGroup.DELETE("/admins/:uid", d.Admin.RevokeAdmin)
		adminGroup.POST("/reconcile", d.Admin.Reconcile)
	}

	r.GET("/api/ws", auth, active, d.WS.Serve)
	return r
}
