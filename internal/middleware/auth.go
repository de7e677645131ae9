package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chalkboard/internal/service"
)

const (
	ContextUserIDKey   = "user_id"
	ContextIdentityKey = "identity"
)

type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*service.Identity, error)
}

type Moderator interface {
	IsBanned(ctx context.Context, uid string) (bool, error)
	IsAdmin(ctx context.Context, uid string) (bool, error)
}

// bearerToken 优先取 Authorization 头；浏览器的 WebSocket 无法设置请求头，退回到 access_token 参数
func bearerToken(c *gin.Context) (string, bool) {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if tok := c.Query("access_token"); tok != "" {
		return tok, true
	}
	return "", false
}

func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "missing or invalid authorization header"})
			return
		}

		// token 校验、单点登录校验和续期都在 Authenticate 里
		ident, err := auth.Authenticate(c.Request.Context(), tokenStr)
		if errors.Is(err, service.ErrUnauthenticated) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid or expired token"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"msg": "auth backend unavailable"})
			return
		}

		// 注入登录身份
		c.Set(ContextUserIDKey, ident.UID)
		c.Set(ContextIdentityKey, ident)
		c.Next()
	}
}

// CurrentIdentity 取 AuthMiddleware 注入的身份，未登录为 nil
func CurrentIdentity(c *gin.Context) *service.Identity {
	v, ok := c.Get(ContextIdentityKey)
	if !ok {
		return nil
	}
	ident, _ := v.(*service.Identity)
	return ident
}

// ActiveMiddleware 拦截被封禁用户的写请求
func ActiveMiddleware(mod Moderator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := CurrentIdentity(c)
		if ident == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "login required"})
			return
		}
		banned, err := mod.IsBanned(c.Request.Context(), ident.UID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"msg": "store unavailable"})
			return
		}
		if banned {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"msg": service.ErrBanned.Error()})
			return
		}
		c.Next()
	}
}

func AdminMiddleware(mod Moderator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := CurrentIdentity(c)
		if ident == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "login required"})
			return
		}
		ok, err := mod.IsAdmin(c.Request.Context(), ident.UID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"msg": "store unavailable"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"msg": "admin only"})
			return
		}
		c.Next()
	}
}
