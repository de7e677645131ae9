package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chalkboard/internal/middleware"
	"chalkboard/internal/service"
)

type PostHandler struct {
	board          *service.BoardService
	votes          *service.VoteService
	maxUploadBytes int64
	log            *zap.SugaredLogger
}

type CreatePostReq struct {
	Title string `json:"title" form:"title"`
	Body  string `json:"body" form:"body"`
}

func NewPostHandler(board *service.BoardService, votes *service.VoteService, maxUploadBytes int64, log *zap.SugaredLogger) *PostHandler {
	return &PostHandler{board: board, votes: votes, maxUploadBytes: maxUploadBytes, log: log}
}

// List 帖子列表，sort=new|top，q 为搜索词
func (h *PostHandler) List(c *gin.Context) {
	sortBy := c.DefaultQuery("sort", service.SortNew)
	if sortBy != service.SortNew && sortBy != service.SortTop {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid sort"})
		return
	}
	list, err := h.board.ListPosts(c.Request.Context(), sortBy, c.Query("q"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": list})
}

func (h *PostHandler) Get(c *gin.Context) {
	p, err := h.board.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Create 发帖接口，支持 JSON 或带 image 文件的 multipart 表单
func (h *PostHandler) Create(c *gin.Context) {
	var req CreatePostReq
	var img *service.ImageUpload

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			badParams(c)
			return
		}
		fh, err := c.FormFile("image")
		if err == nil {
			if fh.Size > h.maxUploadBytes {
				c.JSON(http.StatusBadRequest, gin.H{"msg": "image too large"})
				return
			}
			f, err := fh.Open()
			if err != nil {
				badParams(c)
				return
			}
			data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
			_ = f.Close()
			if err != nil {
				badParams(c)
				return
			}
			img = &service.ImageUpload{Name: fh.Filename, Data: data}
		} else if err != http.ErrMissingFile {
			badParams(c)
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		badParams(c)
		return
	}

	p, err := h.board.CreatePost(c.Request.Context(), middleware.CurrentIdentity(c), req.Title, req.Body, img)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *PostHandler) Comments(c *gin.Context) {
	list, err := h.board.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": list})
}

func (h *PostHandler) AddComment(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badParams(c)
		return
	}
	cm, err := h.votes.AddComment(c.Request.Context(), c.Param("id"), middleware.CurrentIdentity(c), req.Text)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, cm)
}

// Report 举报接口
func (h *PostHandler) Report(c *gin.Context) {
	n, err := h.votes.ReportPost(c.Request.Context(), c.Param("id"), middleware.CurrentIdentity(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": n})
}
