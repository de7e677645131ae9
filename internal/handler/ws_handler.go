package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chalkboard/internal/docstore"
	"chalkboard/internal/middleware"
	"chalkboard/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	maxSubs        = 64
)

type clientMsg struct {
	Op     string `json:"op"`
	ID     string `json:"id"`
	Path   string `json:"path"`
	PostID string `json:"postId"`
	Value  *int64 `json:"value"`
}

type serverMsg struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Path   string          `json:"path,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	PostID string          `json:"postId,omitempty"`
	Value  *int64          `json:"value,omitempty"`
	Score  *int64          `json:"score,omitempty"`
	Msg    string          `json:"msg,omitempty"`
}

type WSHandler struct {
	ids      *service.IdentityService
	votes    *service.VoteService
	mod      *service.ModerationService
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(ids *service.IdentityService, votes *service.VoteService, mod *service.ModerationService, allowedOrigin string, log *zap.SugaredLogger) *WSHandler {
	return &WSHandler{
		ids:   ids,
		votes: votes,
		mod:   mod,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
	}
}

// Serve 升级为 WebSocket，会话在登出、被封禁或断开时结束
func (h *WSHandler) Serve(c *gin.Context) {
	ident := middleware.CurrentIdentity(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnw("ws upgrade failed", "uid", ident.UID, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		h:        h,
		conn:     conn,
		ident:    ident,
		ctx:      ctx,
		cancel:   cancel,
		send:     make(chan serverMsg, sendBuffer),
		subs:     make(map[string]*docstore.Subscription),
		seeded:   make(map[string]bool),
		optimist: service.NewSpeculativeVote(),
	}
	stop := h.ids.OnAuthStateChanged(func(st service.AuthState) {
		if st.UID == ident.UID && st.Identity == nil {
			s.close()
		}
	})
	defer stop()

	// 会话期间被封禁立即断开
	bans, err := h.mod.WatchBanned(ctx, ident.UID)
	if err != nil {
		h.log.Warnw("ws ban watch failed", "uid", ident.UID, "err", err)
		s.close()
		return
	}
	defer bans.Close()
	go func() {
		for banned := range bans.C {
			if banned {
				s.close()
				return
			}
		}
	}()

	go s.writeLoop()
	s.readLoop()
}

type session struct {
	h      *WSHandler
	conn   *websocket.Conn
	ident  *service.Identity
	ctx    context.Context
	cancel context.CancelFunc
	send   chan serverMsg

	mu       sync.Mutex
	subs     map[string]*docstore.Subscription
	seeded   map[string]bool
	optimist *service.SpeculativeVote
	once     sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		for id, sub := range s.subs {
			sub.Close()
			delete(s.subs, id)
		}
		s.mu.Unlock()
		_ = s.conn.Close()
	})
}

func (s *session) emit(m serverMsg) {
	select {
	case s.send <- m:
	case <-s.ctx.Done():
	}
}

func (s *session) readLoop() {
	defer s.close()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var m clientMsg
		if err := s.conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.h.log.Debugw("ws read failed", "uid", s.ident.UID, "err", err)
			}
			return
		}
		switch m.Op {
		case "subscribe":
			s.subscribe(m.ID, m.Path)
		case "unsubscribe":
			s.unsubscribe(m.ID)
		case "vote":
			if m.Value == nil || m.PostID == "" {
				s.emit(serverMsg{Type: "error", Msg: "vote needs postId and value"})
				continue
			}
			go s.vote(m.PostID, *m.Value)
		default:
			s.emit(serverMsg{Type: "error", ID: m.ID, Msg: "unknown op"})
		}
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()
	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case m := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// allowedPath 只允许订阅公共数据和自己名下的投票、封禁、管理员标记
func allowedPath(path, uid string) (string, bool) {
	clean, err := docstore.Clean(path)
	if err != nil {
		return "", false
	}
	seg := strings.Split(clean, "/")
	switch {
	case len(seg) == 1 && seg[0] == "posts":
	case len(seg) == 2 && (seg[0] == "posts" || seg[0] == "comments"):
	case len(seg) == 4 && seg[0] == "votes" && seg[1] == "posts" && seg[3] == uid:
	case len(seg) == 2 && (seg[0] == "bans" || seg[0] == "admins") && seg[1] == uid:
	default:
		return "", false
	}
	return clean, true
}

func (s *session) subscribe(id, path string) {
	if id == "" {
		s.emit(serverMsg{Type: "error", Msg: "subscribe needs an id"})
		return
	}
	clean, ok := allowedPath(path, s.ident.UID)
	if !ok {
		s.emit(serverMsg{Type: "error", ID: id, Path: path, Msg: "path not allowed"})
		return
	}

	s.mu.Lock()
	if old, ok := s.subs[id]; ok {
		old.Close()
		delete(s.subs, id)
	}
	if len(s.subs) >= maxSubs {
		s.mu.Unlock()
		s.emit(serverMsg{Type: "error", ID: id, Msg: "too many subscriptions"})
		return
	}
	s.mu.Unlock()

	sub, err := s.h.votes.Subscribe(s.ctx, clean)
	if err != nil {
		s.emit(serverMsg{Type: "error", ID: id, Path: clean, Msg: "subscribe failed"})
		return
	}
	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()

	go func() {
		for snap := range sub.C() {
			if snap.Err != nil {
				s.emit(serverMsg{Type: "error", ID: id, Path: clean, Msg: "store unavailable"})
				continue
			}
			data := snap.Value
			if data == nil {
				data = json.RawMessage("null")
			}
			s.emit(serverMsg{Type: "snapshot", ID: id, Path: clean, Data: data})
		}
	}()
}

func (s *session) unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		sub.Close()
		delete(s.subs, id)
	}
}

// vote 先推送乐观值，服务端提交后确认，失败则回退
func (s *session) vote(postID string, value int64) {
	s.mu.Lock()
	needSeed := !s.seeded[postID]
	s.seeded[postID] = true
	s.mu.Unlock()
	if needSeed {
		if v, err := s.h.votes.MyVote(s.ctx, postID, s.ident); err == nil {
			s.optimist.Seed(postID, v)
		}
	}

	token, shown := s.optimist.Apply(postID, value)
	s.emit(serverMsg{Type: "vote.pending", PostID: postID, Value: &shown})

	res, err := s.h.votes.CastVote(s.ctx, postID, s.ident, value)
	if err != nil {
		restored, ok := s.optimist.Rollback(postID, token)
		if ok {
			s.emit(serverMsg{Type: "vote.rollback", PostID: postID, Value: &restored, Msg: err.Error()})
		}
		return
	}
	s.optimist.Confirm(postID, token, res.Current)
	s.emit(serverMsg{Type: "vote.confirmed", PostID: postID, Value: &res.Current, Score: &res.Score})
}
