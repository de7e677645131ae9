package service

import "sync"

// SpeculativeVote 客户端视角的乐观投票：先显示新值，服务端确认后落定，失败则回退。
// 同一帖子上后来的投票会取代先前的，被取代的 token 回滚时不再改变显示值
type SpeculativeVote struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]*specEntry
}

type specEntry struct {
	confirmed    int64
	confirmedTok uint64 // 已确认值对应的最大 token
	shown        int64
	token        uint64
}

func NewSpeculativeVote() *SpeculativeVote {
	return &SpeculativeVote{entries: make(map[string]*specEntry)}
}

func (v *SpeculativeVote) entry(postID string) *specEntry {
	e, ok := v.entries[postID]
	if !ok {
		e = &specEntry{}
		v.entries[postID] = e
	}
	return e
}

// Seed 用服务端的值覆盖已确认值；有进行中的投票时不改显示值
func (v *SpeculativeVote) Seed(postID string, value int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e := v.entry(postID)
	e.confirmed = value
	if e.token == 0 {
		e.shown = value
	}
}

func (v *SpeculativeVote) Apply(postID string, value int64) (token uint64, shown int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	e := v.entry(postID)
	e.token = v.seq
	e.shown = value
	return e.token, e.shown
}

// Confirm 服务端已提交；只有最新的 token 会清掉进行中状态
func (v *SpeculativeVote) Confirm(postID string, token uint64, value int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e := v.entry(postID)
	// 晚到的旧确认不覆盖更新的确认值
	if token >= e.confirmedTok {
		e.confirmed = value
		e.confirmedTok = token
	}
	if e.token == token {
		e.token = 0
		e.shown = value
	}
}

// Rollback 回到最近一次确认的值；token 已被取代时返回 ok=false
func (v *SpeculativeVote) Rollback(postID string, token uint64) (restored int64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e := v.entry(postID)
	if e.token != token {
		return e.shown, false
	}
	e.token = 0
	e.shown = e.confirmed
	return e.shown, true
}

func (v *SpeculativeVote) Shown(postID string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e, ok := v.entries[postID]; ok {
		return e.shown
	}
	return 0
}
