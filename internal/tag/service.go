// Package tag はタグの作成と参照を提供する。
package tag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/postboard/internal/identity"
	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
	"github.com/hitoshi/postboard/internal/security"
)

// 入力の上限（文字数）
const (
	MaxNameLength        = 50
	MaxDescriptionLength = 500
)

const opCreateTag = "create_tag"

// MutationRecorder は更新処理の結果を記録する。
type MutationRecorder interface {
	RecordMutation(operation, outcome string)
}

// Service はタグのビジネスロジックを提供する。
type Service struct {
	tags      repository.TagRepository
	sanitizer security.TextSanitizer
	recorder  MutationRecorder
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(tags repository.TagRepository, sanitizer security.TextSanitizer, recorder MutationRecorder) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		tags:      tags,
		sanitizer: sanitizer,
		recorder:  recorder,
		now:       time.Now,
	}
}

// List は全タグを名前順で返す。
func (s *Service) List(ctx context.Context) ([]*model.Tag, error) {
	tags, err := s.tags.List(ctx)
	if err != nil {
		return nil, model.NewUnavailableError(err)
	}
	return tags, nil
}

// Get は指定IDのタグを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Tag, error) {
	tag, err := s.tags.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewUnavailableError(err)
	}
	if tag == nil {
		return nil, model.NewNotFoundError("タグ", id)
	}
	return tag, nil
}

// Create はタグを作成する。同名のタグが既にある場合はそれを返し、createdはfalseになる。
func (s *Service) Create(ctx context.Context, name, description string) (*model.Tag, bool, error) {
	principal, err := identity.RequireAuthenticated(ctx)
	if err != nil {
		return nil, false, err
	}

	name, err = validateName(name)
	if err != nil {
		return nil, false, err
	}
	description = s.sanitizer.Sanitize(description)
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return nil, false, model.NewInvalidInputError(fmt.Sprintf("説明は%d文字以内で入力してください", MaxDescriptionLength))
	}

	tag, created, err := s.tags.CreateIfAbsent(ctx, &model.Tag{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		CreatedAt:   s.now(),
	})
	if err != nil {
		s.recorder.RecordMutation(opCreateTag, metrics.OutcomeFailed)
		return nil, false, model.NewUnavailableError(err)
	}

	s.recorder.RecordMutation(opCreateTag, metrics.OutcomeConfirmed)
	if created {
		slog.Info("tag created",
			slog.String("tag_id", tag.ID),
			slog.String("name", tag.Name),
			slog.String("user_id", principal.ID),
		)
	}
	return tag, created, nil
}

// validateName はタグ名を検証し、前後の空白を除いた名前を返す。
func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(name)
	switch {
	case n == 0:
		return "", model.NewInvalidInputError("タグ名が空です")
	case n > MaxNameLength:
		return "", model.NewInvalidInputError(fmt.Sprintf("タグ名は%d文字以内で入力してください", MaxNameLength))
	case strings.HasPrefix(name, "#"):
		return "", model.NewInvalidInputError("タグ名を#で始めることはできません")
	case strings.IndexFunc(name, unicode.IsSpace) >= 0:
		return "", model.NewInvalidInputError("タグ名に空白は使用できません")
	}
	return name, nil
}
