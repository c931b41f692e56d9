package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/postboard/internal/model"
)

const postSelect = `SELECT p.id, p.author_id, u.username, p.description, p.tag_ids, p.likes, p.created_at, p.updated_at
	FROM posts p JOIN users u ON u.id = p.author_id`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

func scanPost(row rowScanner) (*model.Post, error) {
	post := &model.Post{}
	err := row.Scan(
		&post.ID, &post.AuthorID, &post.AuthorUsername, &post.Description,
		pq.Array(&post.TagIDs), &post.Likes, &post.CreatedAt, &post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return post, nil
}

// FindByID は指定IDの投稿をコメント付きで取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx, postSelect+` WHERE p.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}

	if err := r.loadComments(ctx, []*model.Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

// List は全投稿を新しい順で返す。
func (r *PostgresPostRepo) List(ctx context.Context) ([]*model.Post, error) {
	return r.query(ctx, postSelect+` ORDER BY p.created_at DESC, p.id DESC`)
}

// ListByTagID は指定タグを含む投稿を新しい順で返す。
func (r *PostgresPostRepo) ListByTagID(ctx context.Context, tagID string) ([]*model.Post, error) {
	return r.query(ctx,
		postSelect+` WHERE p.tag_ids @> ARRAY[$1]::text[] ORDER BY p.created_at DESC, p.id DESC`,
		tagID,
	)
}

// SearchByDescription は本文に部分文字列を含む投稿を作成順で返す。
func (r *PostgresPostRepo) SearchByDescription(ctx context.Context, text string) ([]*model.Post, error) {
	return r.query(ctx,
		postSelect+` WHERE p.description ILIKE $1 ORDER BY p.created_at, p.id`,
		containsPattern(text),
	)
}

func (r *PostgresPostRepo) query(ctx context.Context, q string, args ...any) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	if err := r.loadComments(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// loadComments は投稿群のコメントを1クエリでまとめて取得して割り当てる。
func (r *PostgresPostRepo) loadComments(ctx context.Context, posts []*model.Post) error {
	if len(posts) == 0 {
		return nil
	}

	byID := make(map[string]*model.Post, len(posts))
	ids := make([]string, len(posts))
	for i, p := range posts {
		byID[p.ID] = p
		ids[i] = p.ID
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.post_id, c.author_id, u.username, c.text, c.created_at
		 FROM comments c JOIN users u ON u.id = c.author_id
		 WHERE c.post_id = ANY($1)
		 ORDER BY c.created_at, c.id`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.AuthorUsername, &c.Text, &c.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan comment: %w", err)
		}
		if p, ok := byID[c.PostID]; ok {
			p.Comments = append(p.Comments, c)
		}
	}
	return rows.Err()
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, description, tag_ids, likes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		post.ID, post.AuthorID, post.Description, pq.Array(post.TagIDs), post.Likes, post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// Delete は投稿を削除する。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete post: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// IncrementLikes はいいね数を1つ増やし、更新後の値を返す。
func (r *PostgresPostRepo) IncrementLikes(ctx context.Context, id string) (int, error) {
	var likes int
	err := r.db.QueryRowContext(ctx,
		`UPDATE posts SET likes = likes + 1, updated_at = now() WHERE id = $1 RETURNING likes`,
		id,
	).Scan(&likes)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment likes: %w", err)
	}
	return likes, nil
}

// UpdateTags は投稿のタグを置き換える。
func (r *PostgresPostRepo) UpdateTags(ctx context.Context, id string, tagIDs []string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET tag_ids = $2, updated_at = now() WHERE id = $1`,
		id, pq.Array(tagIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to update post tags: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddComment はコメントを追加する。投稿が存在しない場合はErrNotFoundを返す。
func (r *PostgresPostRepo) AddComment(ctx context.Context, comment *model.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, author_id, text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		comment.ID, comment.PostID, comment.AuthorID, comment.Text, comment.CreatedAt,
	)
	if isForeignKeyViolation(err) {
		// 読み込みから挿入までの間に投稿が削除された
		return fmt.Errorf("post %s: %w", comment.PostID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// FindComment は投稿内のコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindComment(ctx context.Context, postID, commentID string) (*model.Comment, error) {
	var c model.Comment
	err := r.db.QueryRowContext(ctx,
		`SELECT c.id, c.post_id, c.author_id, u.username, c.text, c.created_at
		 FROM comments c JOIN users u ON u.id = c.author_id
		 WHERE c.post_id = $1 AND c.id = $2`,
		postID, commentID,
	).Scan(&c.ID, &c.PostID, &c.AuthorID, &c.AuthorUsername, &c.Text, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find comment: %w", err)
	}
	return &c, nil
}

// DeleteComment はコメントを削除する。
func (r *PostgresPostRepo) DeleteComment(ctx context.Context, postID, commentID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM comments WHERE post_id = $1 AND id = $2`,
		postID, commentID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
