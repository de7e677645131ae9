package service

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chalkboard/internal/blob"
	"chalkboard/internal/docstore"
	"chalkboard/internal/model"
)

const (
	minTitle   = 4
	maxTitle   = 120
	maxBody    = 10000
	maxComment = 2000

	SortNew = "new"
	SortTop = "top"
)

func postPath(id string) string            { return docstore.Join("posts", id) }
func postField(id, field string) string    { return docstore.Join("posts", id, field) }
func commentsPath(postID string) string    { return docstore.Join("comments", postID) }
func votesPath(postID string) string       { return docstore.Join("votes", "posts", postID) }
func votePath(postID, uid string) string   { return docstore.Join("votes", "posts", postID, uid) }
func commentPath(postID, id string) string { return docstore.Join("comments", postID, id) }

type BoardDeps struct {
	Store          docstore.Store
	Blobs          blob.Store
	Moderation     *ModerationService
	Events         EventRecorder
	Log            *zap.SugaredLogger
	MaxUploadBytes int64
}

// BoardService 帖子的创建与读取
type BoardService struct {
	store          docstore.Store
	blobs          blob.Store
	mod            *ModerationService
	events         EventRecorder
	log            *zap.SugaredLogger
	maxUploadBytes int64
	now            func() time.Time
}

func NewBoardService(d BoardDeps) *BoardService {
	if d.Events == nil {
		d.Events = NopRecorder{}
	}
	return &BoardService{
		store:          d.Store,
		blobs:          d.Blobs,
		mod:            d.Moderation,
		events:         d.Events,
		log:            d.Log,
		maxUploadBytes: d.MaxUploadBytes,
		now:            time.Now,
	}
}

type ImageUpload struct {
	Name string
	Data []byte
}

func (s *BoardService) CreatePost(ctx context.Context, actor *Identity, title, body string, img *ImageUpload) (*model.Post, error) {
	if err := s.mod.RequireActive(ctx, actor); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if n := utf8.RuneCountInString(title); n < minTitle || n > maxTitle {
		return nil, invalid("title must be %d-%d characters", minTitle, maxTitle)
	}
	if n := utf8.RuneCountInString(body); n == 0 || n > maxBody {
		return nil, invalid("body must be 1-%d characters", maxBody)
	}

	var imageURL string
	if img != nil && len(img.Data) > 0 {
		u, err := s.UploadImage(ctx, img.Name, img.Data)
		if err != nil {
			return nil, err
		}
		imageURL = u
	}

	id := uuid.NewString()
	post := &model.Post{
		Title:      s.mod.Filter(title),
		Body:       s.mod.Filter(body),
		ImageURL:   imageURL,
		AuthorID:   actor.UID,
		AuthorName: actor.AuthorName(),
		CreatedAt:  s.now().UnixMilli(),
	}
	if err := s.store.Set(ctx, postPath(id), post); err != nil {
		return nil, storeErr(err)
	}
	post.ID = id
	s.events.Record(ctx, EventPostCreated, id, map[string]any{"postId": id, "authorId": actor.UID})
	return post, nil
}

// UploadImage 校验并规整图片后写入 uploads/{uuid}-{name}
func (s *BoardService) UploadImage(ctx context.Context, name string, data []byte) (string, error) {
	if s.blobs == nil {
		return "", invalid("image uploads are disabled")
	}
	out, contentType, err := blob.NormalizeImage(data, s.maxUploadBytes)
	if err != nil {
		if errors.Is(err, blob.ErrEmpty) || errors.Is(err, blob.ErrTooLarge) || errors.Is(err, blob.ErrUnsupported) {
			return "", invalid("%v", err)
		}
		return "", invalid("unreadable image")
	}
	h, err := s.blobs.Upload(ctx, "uploads/"+uuid.NewString()+"-"+safeName(name), out, contentType)
	if err != nil {
		return "", storeErr(err)
	}
	return s.blobs.PublicURL(h), nil
}

func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		s = "image"
	}
	if len(s) > 64 {
		s = s[len(s)-64:]
	}
	return s
}

func (s *BoardService) GetPost(ctx context.Context, id string) (*model.Post, error) {
	return getPost(ctx, s.store, id)
}

func getPost(ctx context.Context, store docstore.Store, id string) (*model.Post, error) {
	if _, err := docstore.Clean(id); err != nil || strings.Contains(id, "/") {
		return nil, ErrNotFound
	}
	raw, err := store.Get(ctx, postPath(id))
	if err != nil {
		return nil, storeErr(err)
	}
	var p model.Post
	ok, err := docstore.Decode(raw, &p)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok || p.AuthorID == "" {
		return nil, ErrNotFound
	}
	p.ID = id
	return &p, nil
}

// ListPosts 全量读取后排序；q 非空时按标题/正文做不区分大小写的子串匹配
func (s *BoardService) ListPosts(ctx context.Context, sortBy, q string) ([]model.Post, error) {
	raw, err := s.store.Get(ctx, "posts")
	if err != nil {
		return nil, storeErr(err)
	}
	return decodePosts(raw, sortBy, q)
}

func decodePosts(raw json.RawMessage, sortBy, q string) ([]model.Post, error) {
	var m map[string]model.Post
	if _, err := docstore.Decode(raw, &m); err != nil {
		return nil, storeErr(err)
	}
	q = strings.ToLower(strings.TrimSpace(q))
	out := make([]model.Post, 0, len(m))
	for id, p := range m {
		if p.AuthorID == "" {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Title), q) && !strings.Contains(strings.ToLower(p.Body), q) {
			continue
		}
		p.ID = id
		out = append(out, p)
	}
	sortPosts(out, sortBy)
	return out, nil
}

func sortPosts(posts []model.Post, sortBy string) {
	sort.Slice(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		if sortBy == SortTop && a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})
}

func (s *BoardService) ListComments(ctx context.Context, postID string) ([]model.Comment, error) {
	if _, err := getPost(ctx, s.store, postID); err != nil {
		return nil, err
	}
	raw, err := s.store.Get(ctx, commentsPath(postID))
	if err != nil {
		return nil, storeErr(err)
	}
	return decodeComments(raw, postID)
}

func decodeComments(raw json.RawMessage, postID string) ([]model.Comment, error) {
	var m map[string]model.Comment
	if _, err := docstore.Decode(raw, &m); err != nil {
		return nil, storeErr(err)
	}
	out := make([]model.Comment, 0, len(m))
	for id, c := range m {
		c.ID = id
		c.PostID = postID
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
