package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hirely/hirely-api/internal/model"
)

// PostgresAnalysisRepo はPostgreSQLを使用した分析リポジトリ。
type PostgresAnalysisRepo struct {
	db *sql.DB
}

// NewPostgresAnalysisRepo はPostgresAnalysisRepoを生成する。
func NewPostgresAnalysisRepo(db *sql.DB) *PostgresAnalysisRepo {
	return &PostgresAnalysisRepo{db: db}
}

const analysisColumns = `id, interview_id, user_id, status, analysis_type, result,
	error_message, regenerated_from, created_at, started_at, completed_at`

func scanAnalysis(s rowScanner) (*model.AnalysisRecord, error) {
	rec := &model.AnalysisRecord{}
	var result []byte
	var regeneratedFrom sql.NullString
	var startedAt, completedAt sql.NullTime

	err := s.Scan(
		&rec.ID, &rec.InterviewID, &rec.UserID, &rec.Status, &rec.AnalysisType, &result,
		&rec.ErrorMessage, &regeneratedFrom, &rec.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(result) > 0 {
		rec.Result = &model.AnalysisResult{}
		if err := json.Unmarshal(result, rec.Result); err != nil {
			return nil, fmt.Errorf("分析結果のデコードに失敗しました: %w", err)
		}
	}
	rec.RegeneratedFrom = nullStringValue(regeneratedFrom)
	rec.StartedAt = nullTimePtr(startedAt)
	rec.CompletedAt = nullTimePtr(completedAt)

	return rec, nil
}

// Create はpending状態の分析レコードを作成する。
func (r *PostgresAnalysisRepo) Create(ctx context.Context, rec *model.AnalysisRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO analyses (id, interview_id, user_id, status, analysis_type, regenerated_from, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.InterviewID, rec.UserID, rec.Status, rec.AnalysisType,
		nullString(rec.RegeneratedFrom), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("分析レコードの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByIDAndOwner はIDと所有者で分析レコードを1クエリで取得する。見つからない場合はnilを返す。
func (r *PostgresAnalysisRepo) FindByIDAndOwner(ctx context.Context, id, userID string) (*model.AnalysisRecord, error) {
	if !model.ValidID(id) {
		return nil, nil
	}
	rec, err := scanAnalysis(r.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1 AND user_id = $2`, id, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("分析レコードの取得に失敗しました: %w", err)
	}
	return rec, nil
}

// FindLatestByInterview は面接の最新の分析レコードを返す。見つからない場合はnilを返す。
func (r *PostgresAnalysisRepo) FindLatestByInterview(ctx context.Context, interviewID, userID string) (*model.AnalysisRecord, error) {
	if !model.ValidID(interviewID) {
		return nil, nil
	}
	rec, err := scanAnalysis(r.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+`
		 FROM analyses
		 WHERE interview_id = $1 AND user_id = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		interviewID, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("最新の分析レコードの取得に失敗しました: %w", err)
	}
	return rec, nil
}

// ListByInterview は面接の分析レコード一覧を新しい順に返す。
func (r *PostgresAnalysisRepo) ListByInterview(ctx context.Context, interviewID, userID string) ([]*model.AnalysisRecord, error) {
	if !model.ValidID(interviewID) {
		return []*model.AnalysisRecord{}, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+analysisColumns+`
		 FROM analyses
		 WHERE interview_id = $1 AND user_id = $2
		 ORDER BY created_at DESC, id DESC`,
		interviewID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("分析レコード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectAnalyses(rows)
}

// MarkProcessing はpendingからprocessingへの遷移を原子的に行う。
// 対象がpendingでない場合はnilを返す。
func (r *PostgresAnalysisRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (*model.AnalysisRecord, error) {
	rec, err := scanAnalysis(r.db.QueryRowContext(ctx,
		`UPDATE analyses SET status = $2, started_at = $3
		 WHERE id = $1 AND status = $4
		 RETURNING `+analysisColumns,
		id, model.AnalysisStatusProcessing, startedAt, model.AnalysisStatusPending,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("分析の処理開始に失敗しました: %w", err)
	}
	return rec, nil
}

// Complete はprocessingからcompletedへ遷移し、結果を保存する。
func (r *PostgresAnalysisRepo) Complete(ctx context.Context, id string, result *model.AnalysisResult, completedAt time.Time) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("分析結果のエンコードに失敗しました: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE analyses SET status = $2, result = $3, completed_at = $4
		 WHERE id = $1 AND status = $5`,
		id, model.AnalysisStatusCompleted, payload, completedAt, model.AnalysisStatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("分析の完了処理に失敗しました: %w", err)
	}
	return affected(res)
}

// Fail はprocessingからfailedへ遷移し、エラー要約を保存する。
func (r *PostgresAnalysisRepo) Fail(ctx context.Context, id, message string, completedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE analyses SET status = $2, error_message = $3, completed_at = $4
		 WHERE id = $1 AND status = $5`,
		id, model.AnalysisStatusFailed, message, completedAt, model.AnalysisStatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("分析の失敗処理に失敗しました: %w", err)
	}
	return affected(res)
}

// FailStaleProcessing はprocessingのまま停滞しているレコードをfailedにする。
func (r *PostgresAnalysisRepo) FailStaleProcessing(ctx context.Context, before time.Time, message string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE analyses SET status = $1, error_message = $2, completed_at = now()
		 WHERE status = $3 AND started_at <= $4`,
		model.AnalysisStatusFailed, message, model.AnalysisStatusProcessing, before,
	)
	if err != nil {
		return 0, fmt.Errorf("停滞した分析の失敗処理に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// ListStalePending はcreated_atがbefore以前のpendingレコードを
// FOR UPDATE SKIP LOCKEDで排他的に取得する。
// ロックはトランザクション終了とともに解放されるが、遷移自体はMarkProcessingの
// 条件付きUPDATEで排他されるため、複数ワーカーが同じレコードを拾っても二重処理にはならない。
func (r *PostgresAnalysisRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.AnalysisRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+analysisColumns+`
		 FROM analyses
		 WHERE status = $1 AND created_at <= $2
		 ORDER BY created_at ASC
		 LIMIT $3
		 FOR UPDATE SKIP LOCKED`,
		model.AnalysisStatusPending, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("再投入対象の分析の取得に失敗しました: %w", err)
	}
	records, err := collectAnalyses(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return records, nil
}

// DeleteByUserID はユーザーの全分析レコードを削除する。
func (r *PostgresAnalysisRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM analyses WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("ユーザーの分析削除に失敗しました: %w", err)
	}
	return nil
}

func collectAnalyses(rows *sql.Rows) ([]*model.AnalysisRecord, error) {
	records := []*model.AnalysisRecord{}
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("分析レコードの読み取りに失敗しました: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("分析レコードの走査に失敗しました: %w", err)
	}
	return records, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ AnalysisRepository = (*PostgresAnalysisRepo)(nil)
