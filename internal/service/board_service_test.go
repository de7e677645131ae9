package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"chalkboard/internal/blob"
	"chalkboard/internal/mocks"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCreatePostValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	author := user("author")

	tests := []struct {
		name, title, body string
		actor             *Identity
		want              error
	}{
		{"short title", "abc", "body", author, ErrInvalidInput},
		{"title trimmed", "  ab  ", "body", author, ErrInvalidInput},
		{"long title", strings.Repeat("x", maxTitle+1), "body", author, ErrInvalidInput},
		{"empty body", "good title", "  ", author, ErrInvalidInput},
		{"anonymous", "good title", "body", nil, ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.board.CreatePost(ctx, tt.actor, tt.title, tt.body, nil); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	p, err := e.board.CreatePost(ctx, author, "  a curse here ", "Slur1 in body", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.board.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "a *** here" || got.Body != "*** in body" {
		t.Errorf("stored = %q / %q", got.Title, got.Body)
	}
	if got.AuthorID != "author" || got.AuthorName != "author" || got.Score != 0 || got.CommentCount != 0 || got.Reports != 0 {
		t.Errorf("stored post = %+v", got)
	}
	if _, err := e.board.GetPost(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestListPostsSortAndSearch(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	tick := 0
	e.board.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	old := e.post(t, user("a"), "Old News")
	mid := e.post(t, user("a"), "Middle Child")
	fresh := e.post(t, user("a"), "Fresh Take")
	for _, uid := range []string{"x", "y"} {
		if _, err := e.votes.CastVote(ctx, old.ID, user(uid), 1); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.votes.CastVote(ctx, fresh.ID, user("x"), -1); err != nil {
		t.Fatal(err)
	}

	ids := func(sortBy, q string) []string {
		t.Helper()
		list, err := e.board.ListPosts(ctx, sortBy, q)
		if err != nil {
			t.Fatal(err)
		}
		out := make([]string, 0, len(list))
		for _, p := range list {
			out = append(out, p.ID)
		}
		return out
	}
	eq := func(got []string, want ...string) bool {
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}

	if got := ids(SortNew, ""); !eq(got, fresh.ID, mid.ID, old.ID) {
		t.Errorf("new = %v", got)
	}
	if got := ids(SortTop, ""); !eq(got, old.ID, mid.ID, fresh.ID) {
		t.Errorf("top = %v", got)
	}
	if got := ids(SortNew, "NEWS"); !eq(got, old.ID) {
		t.Errorf("search = %v", got)
	}
	if got := ids(SortNew, "body of"); len(got) != 3 {
		t.Errorf("body search = %v", got)
	}
}

func TestCreatePostWithImage(t *testing.T) {
	e := newTestEnv(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	e.board.blobs = store

	store.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), "image/png").
		DoAndReturn(func(_ context.Context, key string, data []byte, ct string) (blob.Handle, error) {
			if !strings.HasPrefix(key, "uploads/") || !strings.HasSuffix(key, "-my_cat.png") {
				t.Errorf("key = %q", key)
			}
			return blob.Handle{Key: key, ContentType: ct, Size: int64(len(data))}, nil
		})
	store.EXPECT().PublicURL(gomock.Any()).DoAndReturn(func(h blob.Handle) string {
		return "https://cdn.example.com/" + h.Key
	})

	p, err := e.board.CreatePost(context.Background(), user("a"), "with picture", "see image",
		&ImageUpload{Name: "../my cat.png", Data: pngBytes(t, 8, 8)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(p.ImageURL, "https://cdn.example.com/uploads/") {
		t.Errorf("imageUrl = %q", p.ImageURL)
	}
}

func TestCreatePostRejectsBadImage(t *testing.T) {
	e := newTestEnv(t)
	ctrl := gomock.NewController(t)
	e.board.blobs = mocks.NewMockStore(ctrl) // 不应被调用

	_, err := e.board.CreatePost(context.Background(), user("a"), "with picture", "see image",
		&ImageUpload{Name: "x.txt", Data: []byte("plain text, not an image")})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	list, _ := e.board.ListPosts(context.Background(), SortNew, "")
	if len(list) != 0 {
		t.Errorf("post written despite failed upload: %+v", list)
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"cat.png", "cat.png"},
		{"../../etc/pw", "pw"},
		{`C:\dir\a b.jpg`, "a_b.jpg"},
		{"...", "image"},
		{"头像.gif", "__.gif"},
	}
	for _, tt := range tests {
		if got := safeName(tt.in); got != tt.want {
			t.Errorf("safeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
