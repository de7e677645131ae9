package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chalkboard/internal/middleware"
	"chalkboard/internal/service"
)

type AdminHandler struct {
	mod        *service.ModerationService
	reconciler *service.CountReconciler
	log        *zap.SugaredLogger
}

func NewAdminHandler(mod *service.ModerationService, reconciler *service.CountReconciler, log *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{mod: mod, reconciler: reconciler, log: log}
}

func (h *AdminHandler) Ban(c *gin.Context) {
	if err := h.mod.BanUser(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("uid")); err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "banned"})
}

func (h *AdminHandler) Unban(c *gin.Context) {
	if err := h.mod.UnbanUser(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("uid")); err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "unbanned"})
}

func (h *AdminHandler) GrantAdmin(c *gin.Context) {
	if err := h.mod.GrantAdmin(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("uid")); err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "ok"})
}

func (h *AdminHandler) RevokeAdmin(c *gin.Context) {
	if err := h.mod.RevokeAdmin(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("uid")); err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "ok"})
}

// CreateInvite 生成邀请码
func (h *AdminHandler) CreateInvite(c *gin.Context) {
	inv, err := h.mod.GenerateInvite(c.Request.Context(), middleware.CurrentIdentity(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *AdminHandler) ListInvites(c *gin.Context) {
	list, err := h.mod.ListInvites(c.Request.Context(), middleware.CurrentIdentity(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": list})
}

func (h *AdminHandler) RevokeInvite(c *gin.Context) {
	if err := h.mod.RevokeInvite(c.Request.Context(), middleware.CurrentIdentity(c), c.Param("code")); err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "revoked"})
}

// Reconcile 立即对账一次，不等第二轮确认
func (h *AdminHandler) Reconcile(c *gin.Context) {
	rep, err := h.reconciler.ReconcileOnce(c.Request.Context(), true)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
