package service

import (
	"context"
	"errors"
	"testing"

	"chalkboard/internal/model"
	"chalkboard/internal/repository/sqldb"
)

func TestOutboxRecorderAndRelayer(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	repo := sqldb.NewOutboxRepository(e.db)
	rec := NewOutboxRecorder(repo, e.log)

	rec.Record(ctx, EventPostCreated, "p1", map[string]any{"postId": "p1"})
	rec.Record(ctx, EventVoteCast, "p1", VoteResult{PostID: "p1", Current: 1, Delta: 1, Score: 1})

	var sent []string
	fail := true
	sender := func(_ context.Context, ev *model.OutboxEvent) error {
		if ev.EventType == EventVoteCast && fail {
			return errors.New("broker down")
		}
		sent = append(sent, ev.EventType+" "+ev.Payload)
		return nil
	}
	relayer := NewOutboxRelayer(repo, sender, e.log)

	if n := relayer.DrainOnce(ctx); n != 1 {
		t.Fatalf("first drain sent %d", n)
	}
	fail = false
	if n := relayer.DrainOnce(ctx); n != 1 {
		t.Fatalf("retry drain sent %d", n)
	}
	if n := relayer.DrainOnce(ctx); n != 0 {
		t.Errorf("nothing left, sent %d", n)
	}
	want := []string{
		`post.created {"postId":"p1"}`,
		`vote.cast {"postId":"p1","previous":0,"current":1,"delta":1,"score":1}`,
	}
	if len(sent) != 2 || sent[0] != want[0] || sent[1] != want[1] {
		t.Errorf("sent = %q", sent)
	}
}

func TestRelayerUsesServiceEvents(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("a"), "event source")
	if _, err := e.votes.CastVote(ctx, p.ID, user("b"), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := e.votes.CastVote(ctx, p.ID, user("b"), 1); err != nil {
		t.Fatal(err)
	}
	// 重复投票 delta 为 0，不产生事件
	got := e.events.types()
	if len(got) != 2 || got[0] != EventPostCreated || got[1] != EventVoteCast {
		t.Errorf("events = %v", got)
	}
}
