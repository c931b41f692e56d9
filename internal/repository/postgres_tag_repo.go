package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/postboard/internal/model"
)

// PostgresTagRepo はPostgreSQLを使用したタグリポジトリ。
type PostgresTagRepo struct {
	db *sql.DB
}

// NewPostgresTagRepo はPostgresTagRepoを生成する。
func NewPostgresTagRepo(db *sql.DB) *PostgresTagRepo {
	return &PostgresTagRepo{db: db}
}

func (r *PostgresTagRepo) findOne(ctx context.Context, where string, arg any) (*model.Tag, error) {
	tag := &model.Tag{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM tags WHERE `+where,
		arg,
	).Scan(&tag.ID, &tag.Name, &tag.Description, &tag.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tag: %w", err)
	}
	return tag, nil
}

// FindByID は指定IDのタグを取得する。見つからない場合はnilを返す。
func (r *PostgresTagRepo) FindByID(ctx context.Context, id string) (*model.Tag, error) {
	return r.findOne(ctx, `id = $1`, id)
}

// FindByName は名前でタグを取得する。見つからない場合はnilを返す。
func (r *PostgresTagRepo) FindByName(ctx context.Context, name string) (*model.Tag, error) {
	return r.findOne(ctx, `name = $1`, name)
}

// List は全タグを名前順で返す。
func (r *PostgresTagRepo) List(ctx context.Context) ([]*model.Tag, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []*model.Tag
	for rows.Next() {
		tag := &model.Tag{}
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Description, &tag.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}
	return tags, nil
}

// CreateIfAbsent は同名タグが無ければ作成する。
// 同時作成の競合はON CONFLICTで吸収し、既存タグを返す。
func (r *PostgresTagRepo) CreateIfAbsent(ctx context.Context, tag *model.Tag) (*model.Tag, bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO tags (id, name, description, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO NOTHING`,
		tag.ID, tag.Name, tag.Description, tag.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert tag: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return tag, true, nil
	}

	existing, err := r.FindByName(ctx, tag.Name)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("tag %q vanished after conflict", tag.Name)
	}
	return existing, false, nil
}

// compile-time interface check
var _ TagRepository = (*PostgresTagRepo)(nil)
