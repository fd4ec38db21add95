package core

import (
	"context"
	"time"
)

// Post 是去重所需的帖子元信息。
// OriginalPostID / ReplyToPostID / ConversationID 为空表示不存在。
type Post struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"authorId,omitempty"`
	OriginalPostID string    `json:"originalPostId,omitempty"`
	ReplyToPostID  string    `json:"replyToPostId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// PostStore 是帖子元信息存储的领域接口（只读）。
type PostStore interface {
	// GetPosts 批量读取帖子；不存在的 id 不出现在结果中，不视为错误。
	GetPosts(ctx context.Context, ids []string) (map[string]*Post, error)
}
