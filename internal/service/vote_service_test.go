package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chalkboard/internal/docstore"
	"chalkboard/internal/model"
)

func score(t *testing.T, e *testEnv, postID string) int64 {
	t.Helper()
	p, err := e.board.GetPost(context.Background(), postID)
	if err != nil {
		t.Fatal(err)
	}
	return p.Score
}

func TestScoreEqualsSumOfVotes(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("author"), "first post")

	steps := []struct {
		uid   string
		value int64
	}{
		{"a", 1}, {"b", 1}, {"c", -1}, {"a", -1}, {"b", 0}, {"c", -1}, {"d", 1}, {"a", 1},
	}
	want := map[string]int64{}
	for _, st := range steps {
		res, err := e.votes.CastVote(ctx, p.ID, user(st.uid), st.value)
		if err != nil {
			t.Fatalf("vote %s=%d: %v", st.uid, st.value, err)
		}
		if res.Previous != want[st.uid] || res.Current != st.value {
			t.Errorf("vote %s: prev=%d cur=%d", st.uid, res.Previous, res.Current)
		}
		want[st.uid] = st.value

		var sum int64
		for _, v := range want {
			sum += v
		}
		if res.Score != sum {
			t.Errorf("after %s=%d score=%d want %d", st.uid, st.value, res.Score, sum)
		}
	}
	if got := score(t, e, p.ID); got != 1 {
		t.Errorf("final score = %d", got)
	}
}

func TestRepeatedVoteIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("author"), "another post")
	u := user("voter")

	for i := 0; i < 3; i++ {
		res, err := e.votes.CastVote(ctx, p.ID, u, 1)
		if err != nil {
			t.Fatal(err)
		}
		if res.Score != 1 {
			t.Fatalf("round %d score = %d", i, res.Score)
		}
		if i > 0 && res.Delta != 0 {
			t.Errorf("round %d delta = %d", i, res.Delta)
		}
	}
	v, err := e.votes.MyVote(ctx, p.ID, u)
	if err != nil || v != 1 {
		t.Errorf("MyVote = %d, %v", v, err)
	}
}

func TestToggleVote(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("author"), "toggle me")
	u := user("voter")

	want := []struct{ clicked, current, score int64 }{
		{1, 1, 1},
		{1, 0, 0},
		{-1, -1, -1},
		{1, 1, 1},
	}
	for _, w := range want {
		res, err := e.votes.ToggleVote(ctx, p.ID, u, w.clicked)
		if err != nil {
			t.Fatal(err)
		}
		if res.Current != w.current || res.Score != w.score {
			t.Errorf("click %d: got current=%d score=%d, want %d/%d", w.clicked, res.Current, res.Score, w.current, w.score)
		}
	}
	if _, err := e.votes.ToggleVote(ctx, p.ID, u, 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("toggle 0 err = %v", err)
	}
}

func TestConcurrentVotersAllCounted(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("author"), "popular post")
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := e.votes.CastVote(ctx, p.ID, user(fmt.Sprintf("u%d", i)), 1); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("vote: %v", err)
	}
	if got := score(t, e, p.ID); got != n {
		t.Errorf("score = %d, want %d", got, n)
	}
}

func TestVoteRejections(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("author"), "guarded post")
	if err := e.store.Set(ctx, banPath("bad"), model.Ban{BannedAt: 1}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		postID string
		actor  *Identity
		value  int64
		want   error
	}{
		{"unauthenticated", p.ID, nil, 1, ErrUnauthenticated},
		{"banned", p.ID, user("bad"), 1, ErrBanned},
		{"missing post", "nope", user("ok"), 1, ErrNotFound},
		{"path in id", p.ID + "/score", user("ok"), 1, ErrNotFound},
		{"out of range", p.ID, user("ok"), 2, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.votes.CastVote(ctx, tt.postID, tt.actor, tt.value); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if got := score(t, e, p.ID); got != 0 {
		t.Errorf("score changed to %d", got)
	}
	// 不存在的帖子不能被计数"复活"
	if raw, _ := e.store.Get(ctx, postPath("nope")); raw != nil {
		t.Errorf("missing post was created: %s", raw)
	}
}

func TestAddCommentIncrementsCount(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("author"), "discuss")
	const n = 10

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := e.votes.AddComment(ctx, p.ID, user(fmt.Sprintf("c%d", i)), fmt.Sprintf("comment %d", i)); err != nil {
				t.Errorf("AddComment: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := e.board.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CommentCount != n {
		t.Errorf("commentCount = %d", got.CommentCount)
	}
	list, err := e.board.ListComments(ctx, p.ID)
	if err != nil || len(list) != n {
		t.Fatalf("ListComments = %d, %v", len(list), err)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].CreatedAt > list[i].CreatedAt {
			t.Errorf("comments out of order at %d", i)
		}
	}

	if _, err := e.votes.AddComment(ctx, p.ID, user("x"), "   "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank comment err = %v", err)
	}
	if _, err := e.votes.AddComment(ctx, "missing", user("x"), "hi"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing post err = %v", err)
	}
}

func TestCommentFilterIsOptional(t *testing.T) {
	ctx := context.Background()

	plain := newTestEnv(t)
	p := plain.post(t, user("author"), "filters")
	c, err := plain.votes.AddComment(ctx, p.ID, user("x"), "what a curse")
	if err != nil {
		t.Fatal(err)
	}
	if c.Text != "what a curse" {
		t.Errorf("unfiltered text = %q", c.Text)
	}

	filtered := newTestEnv(t, withFilteredComments())
	p = filtered.post(t, user("author"), "filters")
	c, err = filtered.votes.AddComment(ctx, p.ID, user("x"), "what a curse")
	if err != nil {
		t.Fatal(err)
	}
	if c.Text != "what a ***" {
		t.Errorf("filtered text = %q", c.Text)
	}
}

func TestReportPost(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("author"), "reportable")

	for i := int64(1); i <= 3; i++ {
		n, err := e.votes.ReportPost(ctx, p.ID, user(fmt.Sprintf("r%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Errorf("reports = %d, want %d", n, i)
		}
	}
	if _, err := e.votes.ReportPost(ctx, "missing", user("r")); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
	types := e.events.types()
	if types[len(types)-1] != EventPostReported {
		t.Errorf("last event = %v", types)
	}
}

func TestWatchPostSeesVotes(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("author"), "watched")

	sub, err := e.votes.WatchPost(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	next := func() model.Post {
		t.Helper()
		select {
		case snap := <-sub.C():
			var got model.Post
			if _, err := docstore.Decode(snap.Value, &got); err != nil {
				t.Fatal(err)
			}
			return got
		case <-time.After(2 * time.Second):
			t.Fatal("no snapshot")
		}
		return model.Post{}
	}

	if got := next(); got.Title != "watched" || got.Score != 0 {
		t.Fatalf("initial = %+v", got)
	}
	if _, err := e.votes.CastVote(ctx, p.ID, user("v"), -1); err != nil {
		t.Fatal(err)
	}
	// 投票记录写在 votes/ 下，帖子订阅只看到 score 的变化
	if got := next(); got.Score != -1 {
		t.Fatalf("after vote = %+v", got)
	}
}
