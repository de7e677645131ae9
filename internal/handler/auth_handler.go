package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chalkboard/internal/middleware"
	"chalkboard/internal/service"
)

const oauthStateCookie = "cb_oauth_state"

type AuthHandler struct {
	ids          *service.IdentityService
	mod          *service.ModerationService
	log          *zap.SugaredLogger
	secureCookie bool
}

func NewAuthHandler(ids *service.IdentityService, mod *service.ModerationService, secureCookie bool, log *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{ids: ids, mod: mod, log: log, secureCookie: secureCookie}
}

// SignUpReq 邀请码注册请求体
type SignUpReq struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"displayName"`
	InviteCode  string `json:"inviteCode" binding:"required"`
}

type SignInReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignUp 注册接口
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req SignUpReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badParams(c)
		return
	}
	sess, err := h.mod.SignUp(c.Request.Context(), req.Email, req.Password, req.DisplayName, req.InviteCode)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// SignIn 登录接口
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req SignInReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badParams(c)
		return
	}
	sess, err := h.ids.SignInWithPassword(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// GoogleLogin 跳转到 Google 授权页，state 存 cookie 防 CSRF
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	state := uuid.NewString()
	u, err := h.ids.ProviderAuthURL(state)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, 600, "/api/auth/google", "", h.secureCookie, true)
	c.Redirect(http.StatusFound, u)
}

func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	state, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "oauth state mismatch"})
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/api/auth/google", "", h.secureCookie, true)

	code := c.Query("code")
	if code == "" {
		badParams(c)
		return
	}
	sess, err := h.ids.SignInWithProvider(c.Request.Context(), code)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// Refresh 利用 refresh 来更新 access
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badParams(c)
		return
	}
	pair, err := h.ids.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) SignOut(c *gin.Context) {
	ident := middleware.CurrentIdentity(c)
	if err := h.ids.SignOut(c.Request.Context(), ident.UID); err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "ok"})
}

func (h *AuthHandler) SendVerification(c *gin.Context) {
	ident := middleware.CurrentIdentity(c)
	if err := h.ids.SendVerification(c.Request.Context(), ident.UID); err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "sent"})
}

func (h *AuthHandler) Verify(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required,len=6"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badParams(c)
		return
	}
	ident, err := h.ids.VerifyEmail(c.Request.Context(), middleware.CurrentIdentity(c).UID, req.Code)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ident)
}

func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req struct {
		DisplayName string `json:"displayName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badParams(c)
		return
	}
	ident, err := h.ids.UpdateProfile(c.Request.Context(), middleware.CurrentIdentity(c).UID, req.DisplayName)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ident)
}

// Me 当前身份以及封禁/管理员标记
func (h *AuthHandler) Me(c *gin.Context) {
	ident := middleware.CurrentIdentity(c)
	ctx := c.Request.Context()
	banned, err := h.mod.IsBanned(ctx, ident.UID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	admin, err := h.mod.IsAdmin(ctx, ident.UID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": ident, "banned": banned, "admin": admin})
}
