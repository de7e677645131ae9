package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chalkboard/internal/middleware"
	"chalkboard/internal/service"
)

type VoteHandler struct {
	votes *service.VoteService
	log   *zap.SugaredLogger
}

func NewVoteHandler(votes *service.VoteService, log *zap.SugaredLogger) *VoteHandler {
	return &VoteHandler{votes: votes, log: log}
}

type voteReq struct {
	Value *int64 `json:"value" binding:"required"`
}

// Cast 设置投票值 -1/0/1
func (h *VoteHandler) Cast(c *gin.Context) {
	var req voteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badParams(c)
		return
	}
	res, err := h.votes.CastVote(c.Request.Context(), c.Param("id"), middleware.CurrentIdentity(c), *req.Value)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Toggle 同方向再点一次即撤销
func (h *VoteHandler) Toggle(c *gin.Context) {
	var req voteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badParams(c)
		return
	}
	res, err := h.votes.ToggleVote(c.Request.Context(), c.Param("id"), middleware.CurrentIdentity(c), *req.Value)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *VoteHandler) Mine(c *gin.Context) {
	v, err := h.votes.MyVote(c.Request.Context(), c.Param("id"), middleware.CurrentIdentity(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": v})
}
