package service

import (
	"context"
	"testing"
	"time"
)

func TestReconcileNeedsTwoSweeps(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("author"), "drifting")
	if _, err := e.votes.CastVote(ctx, p.ID, user("a"), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := e.votes.AddComment(ctx, p.ID, user("a"), "hello"); err != nil {
		t.Fatal(err)
	}
	// 模拟计数更新丢失
	if err := e.store.Set(ctx, postField(p.ID, "score"), 7); err != nil {
		t.Fatal(err)
	}
	if err := e.store.Set(ctx, postField(p.ID, "commentCount"), 0); err != nil {
		t.Fatal(err)
	}

	r := NewCountReconciler(e.store, time.Hour, e.log)
	rep, err := r.ReconcileOnce(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Posts != 1 || rep.Drifted != 2 || rep.Corrected != 0 {
		t.Errorf("first sweep = %+v", rep)
	}
	if got := score(t, e, p.ID); got != 7 {
		t.Errorf("corrected too early: %d", got)
	}

	rep, err = r.ReconcileOnce(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Corrected != 2 {
		t.Errorf("second sweep = %+v", rep)
	}
	got, _ := e.board.GetPost(ctx, p.ID)
	if got.Score != 1 || got.CommentCount != 1 {
		t.Errorf("after reconcile = %+v", got)
	}

	rep, _ = r.ReconcileOnce(ctx, false)
	if rep.Drifted != 0 {
		t.Errorf("clean sweep = %+v", rep)
	}
}

func TestReconcileSkipsMovingTarget(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("author"), "busy post")
	_ = e.store.Set(ctx, postField(p.ID, "score"), 3)

	r := NewCountReconciler(e.store, time.Hour, e.log)
	if _, err := r.ReconcileOnce(ctx, false); err != nil {
		t.Fatal(err)
	}
	// 两轮之间 score 变了，偏差不同，不修正
	_ = e.store.Set(ctx, postField(p.ID, "score"), 4)
	rep, err := r.ReconcileOnce(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Corrected != 0 || score(t, e, p.ID) != 4 {
		t.Errorf("rep = %+v score = %d", rep, score(t, e, p.ID))
	}
}

func TestReconcileForce(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := e.post(t, user("author"), "forced")
	_ = e.store.Set(ctx, postField(p.ID, "score"), -5)

	r := NewCountReconciler(e.store, time.Hour, e.log)
	rep, err := r.ReconcileOnce(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Corrected != 1 || score(t, e, p.ID) != 0 {
		t.Errorf("rep = %+v score = %d", rep, score(t, e, p.ID))
	}
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	e := newTestEnv(t)
	r := NewCountReconciler(e.store, 10*time.Millisecond, e.log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
