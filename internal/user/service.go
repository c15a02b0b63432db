// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hirely/hirely-api/internal/auth"
	"github.com/hirely/hirely-api/internal/model"
)

const maxFullNameLength = 100

// ProfileGateway はSupabase Authのユーザー属性の更新と削除を行う。
type ProfileGateway interface {
	UpdateUser(ctx context.Context, token string, update auth.UserUpdate) (*model.Identity, error)
	AdminDeleteUser(ctx context.Context, userID string) error
}

// AnalysisDeleter は分析の一括削除インターフェース。
type AnalysisDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// InterviewDeleter は面接の一括削除と録画キーの列挙を行う。
type InterviewDeleter interface {
	ListRecordingKeysByUserID(ctx context.Context, userID string) ([]string, error)
	DeleteByUserID(ctx context.Context, userID string) error
}

// ObjectDeleter はストレージのオブジェクトを削除する。
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// TokenForgetter はトークンキャッシュのエントリを削除する。
type TokenForgetter interface {
	ForgetUser(ctx context.Context, userID string)
}

// Service はユーザー管理のサービス層。
// プロフィール更新と退会処理のビジネスロジックを提供する。
type Service struct {
	gateway          ProfileGateway
	analysisDeleter  AnalysisDeleter
	interviewDeleter InterviewDeleter
	objects          ObjectDeleter
	tokens           TokenForgetter
	now              func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	gateway ProfileGateway,
	analysisDeleter AnalysisDeleter,
	interviewDeleter InterviewDeleter,
	objects ObjectDeleter,
	tokens TokenForgetter,
) *Service {
	return &Service{
		gateway:          gateway,
		analysisDeleter:  analysisDeleter,
		interviewDeleter: interviewDeleter,
		objects:          objects,
		tokens:           tokens,
		now:              time.Now,
	}
}

// UpdateProfile は表示名（user_metadata.full_name）を更新し、更新後のユーザーを返す。
// キャッシュ済みのトークン解決結果は古い表示名を持つため、他のセッションの分も含めて削除する。
func (s *Service) UpdateProfile(ctx context.Context, token, fullName string) (*model.User, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, model.NewValidationError("full_name is required")
	}
	if len([]rune(fullName)) > maxFullNameLength {
		return nil, model.NewValidationError(fmt.Sprintf("full_name must be at most %d characters", maxFullNameLength))
	}

	identity, err := s.gateway.UpdateUser(ctx, token, auth.UserUpdate{
		Data: map[string]any{"full_name": fullName},
	})
	if err != nil {
		return nil, auth.MapGatewayError(err)
	}
	if s.tokens != nil {
		s.tokens.ForgetUser(ctx, identity.ID)
	}

	return identity.ToUser(s.now().UTC()), nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: analyses → 録画オブジェクト → interviews → Supabaseユーザー
// 録画オブジェクトの削除失敗はログのみとし、処理を続行する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. 分析を削除
	if s.analysisDeleter != nil {
		if err := s.analysisDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("分析の削除に失敗しました: %w", err)
		}
	}

	// 2. 録画と面接を削除
	if s.interviewDeleter != nil {
		keys, err := s.interviewDeleter.ListRecordingKeysByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("録画一覧の取得に失敗しました: %w", err)
		}
		if s.objects != nil {
			for _, key := range keys {
				if err := s.objects.Delete(ctx, key); err != nil {
					slog.Warn("録画の削除に失敗しました",
						slog.String("user_id", userID),
						slog.String("key", key),
						slog.String("error", err.Error()),
					)
				}
			}
		}
		if err := s.interviewDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("面接の削除に失敗しました: %w", err)
		}
	}

	// 3. Supabaseのユーザーを削除
	if err := s.gateway.AdminDeleteUser(ctx, userID); err != nil {
		return auth.MapGatewayError(err)
	}
	if s.tokens != nil {
		s.tokens.ForgetUser(ctx, userID)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
