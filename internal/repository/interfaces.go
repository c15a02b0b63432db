// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hirely/hirely-api/internal/model"
)

// InterviewRepository は面接データの永続化インターフェース。
type InterviewRepository interface {
	// FindByID は指定IDの面接を取得する。見つからない場合はnilを返す。
	// 所有者によるスコープを行わないため、バックグラウンド処理からのみ使用する。
	FindByID(ctx context.Context, id string) (*model.Interview, error)

	// FindByIDAndOwner は所有者でスコープした面接を取得する。
	// 存在しない場合・他ユーザーの面接の場合はいずれもnilを返す。
	FindByIDAndOwner(ctx context.Context, id, userID string) (*model.Interview, error)

	// ListByUserID はユーザーの面接一覧をcreated_at降順で返す。
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Interview, error)

	// Create は面接を作成する。
	Create(ctx context.Context, interview *model.Interview) error

	// Update はタイトル・職種・求人票・種別・状態を更新する。
	Update(ctx context.Context, interview *model.Interview) error

	// UpdateRecording は録画のオブジェクトキーとContent-Typeを保存し、状態をcompletedにする。
	// 置き換えられた直前のオブジェクトキーを返す（録画が無かった場合は空文字）。
	UpdateRecording(ctx context.Context, id, key, contentType string) (string, error)

	// UpdateTranscript は文字起こし結果と埋め込みベクトルを保存する。
	UpdateTranscript(ctx context.Context, id, transcript string, embedding []float64) error

	// Delete は所有者でスコープして面接を削除する。関連する分析はCASCADE削除される。
	// 削除対象が存在しなかった場合はfalseを返す。
	Delete(ctx context.Context, id, userID string) (bool, error)

	// ListRecordingKeysByUserID はユーザーの全録画オブジェクトキーを返す。
	ListRecordingKeysByUserID(ctx context.Context, userID string) ([]string, error)

	// DeleteByUserID はユーザーの全面接を削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// AnalysisRepository は分析レコードの永続化インターフェース。
// 状態遷移はすべて条件付きUPDATEで行い、前進方向以外の遷移は発生しない。
type AnalysisRepository interface {
	// Create はpending状態の分析レコードを作成する。
	Create(ctx context.Context, record *model.AnalysisRecord) error

	// FindByIDAndOwner はIDと所有者で分析レコードを1クエリで取得する。
	// 存在しない場合・他ユーザーのレコードの場合はいずれもnilを返す。
	FindByIDAndOwner(ctx context.Context, id, userID string) (*model.AnalysisRecord, error)

	// FindLatestByInterview は面接の最新の分析レコードを返す。
	// created_at降順、同時刻の場合はid降順で先頭を選ぶ。存在しない場合はnilを返す。
	FindLatestByInterview(ctx context.Context, interviewID, userID string) (*model.AnalysisRecord, error)

	// ListByInterview は面接の分析レコード一覧を新しい順に返す。
	ListByInterview(ctx context.Context, interviewID, userID string) ([]*model.AnalysisRecord, error)

	// MarkProcessing はpendingからprocessingへの遷移を原子的に行う。
	// 対象がpendingでない場合（重複実行・終端状態）はnilを返す。
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) (*model.AnalysisRecord, error)

	// Complete はprocessingからcompletedへ遷移し、結果を保存する。
	// 対象がprocessingでない場合はfalseを返す。
	Complete(ctx context.Context, id string, result *model.AnalysisResult, completedAt time.Time) (bool, error)

	// Fail はprocessingからfailedへ遷移し、エラー要約を保存する。
	// 対象がprocessingでない場合はfalseを返す。
	Fail(ctx context.Context, id, message string, completedAt time.Time) (bool, error)

	// FailStaleProcessing はstarted_atがbefore以前のままprocessingに留まっているレコードをfailedにする。
	// 更新件数を返す。
	FailStaleProcessing(ctx context.Context, before time.Time, message string) (int64, error)

	// ListStalePending はcreated_atがbefore以前のpendingレコードを
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.AnalysisRecord, error)

	// DeleteByUserID はユーザーの全分析レコードを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
