package model

// 以下结构对应文档库中的 JSON 文档

type Post struct {
	ID           string `json:"id,omitempty"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	ImageURL     string `json:"imageUrl"`
	AuthorID     string `json:"authorId"`
	AuthorName   string `json:"authorName"`
	CreatedAt    int64  `json:"createdAt"` // unix 毫秒
	Score        int64  `json:"score"`
	CommentCount int64  `json:"commentCount"`
	Reports      int64  `json:"reports"`
}

type Comment struct {
	ID         string `json:"id,omitempty"`
	PostID     string `json:"postId,omitempty"`
	Text       string `json:"text"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	CreatedAt  int64  `json:"createdAt"`
}

type Ban struct {
	BannedAt int64  `json:"bannedAt"`
	BannedBy string `json:"bannedBy,omitempty"`
}

type Invite struct {
	Code      string `json:"code,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	CreatedBy string `json:"createdBy,omitempty"`
}
