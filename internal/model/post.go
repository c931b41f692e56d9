// Package model はドメインモデルを定義する。
package model

import "time"

// Post はユーザーの投稿を表す。
// 本文はDescriptionに一本化する。旧スキーマのpostTextも同じフィールドに格納する。
type Post struct {
	ID             string
	AuthorID       string
	AuthorUsername string
	Description    string // サニタイズ済みプレーンテキスト
	TagIDs         []string
	Comments       []Comment
	Likes          int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OwnedBy は投稿がprincipalの所有かどうかを返す。
func (p *Post) OwnedBy(principal Principal) bool {
	return p.AuthorID == principal.ID
}

// Comment は投稿へのコメントを表す。
type Comment struct {
	ID             string
	PostID         string
	AuthorID       string
	AuthorUsername string
	Text           string
	CreatedAt      time.Time
}

// PostSummary は一覧や検索結果で返す投稿の要約。
type PostSummary struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"author_id"`
	AuthorUsername string    `json:"author_username"`
	Description    string    `json:"description"`
	TagIDs         []string  `json:"tag_ids"`
	Likes          int       `json:"likes"`
	CommentCount   int       `json:"comment_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary はPostを検索結果用のPostSummaryに変換する。
func (p *Post) Summary() PostSummary {
	tagIDs := p.TagIDs
	if tagIDs == nil {
		tagIDs = []string{}
	}
	return PostSummary{
		ID:             p.ID,
		AuthorID:       p.AuthorID,
		AuthorUsername: p.AuthorUsername,
		Description:    p.Description,
		TagIDs:         tagIDs,
		Likes:          p.Likes,
		CommentCount:   len(p.Comments),
		CreatedAt:      p.CreatedAt,
	}
}

// Tag は投稿に付与するタグを表す。名前は大文字小文字を区別して一意。
type Tag struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}
