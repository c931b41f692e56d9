package repository

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// PostgreSQLのエラーコード。
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// asDuplicate は一意制約違反をErrDuplicateに変換する。
// 制約名（例: users_username_key）から違反したカラム名を取り出す。
func asDuplicate(err error, table string) (*ErrDuplicate, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil, false
	}
	field := strings.TrimPrefix(pqErr.Constraint, table+"_")
	field = strings.TrimSuffix(field, "_key")
	return &ErrDuplicate{Field: field}, true
}

// isForeignKeyViolation は参照先の行が存在しない（または同時に削除された）ことによる失敗かを返す。
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

// likeEscaper はLIKEパターンのメタ文字をエスケープする。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern は部分一致検索用のILIKEパターンを生成する。
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
