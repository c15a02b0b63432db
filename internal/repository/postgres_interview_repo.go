package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hirely/hirely-api/internal/model"
)

// PostgresInterviewRepo はPostgreSQLを使用した面接リポジトリ。
type PostgresInterviewRepo struct {
	db *sql.DB
}

// NewPostgresInterviewRepo はPostgresInterviewRepoを生成する。
func NewPostgresInterviewRepo(db *sql.DB) *PostgresInterviewRepo {
	return &PostgresInterviewRepo{db: db}
}

const interviewColumns = `id, user_id, title, job_role, job_description, interview_type, status,
	recording_key, recording_content_type, transcript, transcript_embedding, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInterview(s rowScanner) (*model.Interview, error) {
	iv := &model.Interview{}
	var embedding []float64
	err := s.Scan(
		&iv.ID, &iv.UserID, &iv.Title, &iv.JobRole, &iv.JobDescription,
		&iv.InterviewType, &iv.Status,
		&iv.RecordingKey, &iv.RecordingContentType, &iv.Transcript,
		pq.Array(&embedding), &iv.CreatedAt, &iv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	iv.TranscriptEmbedding = embedding
	return iv, nil
}

// FindByID は指定IDの面接を取得する。見つからない場合はnilを返す。
func (r *PostgresInterviewRepo) FindByID(ctx context.Context, id string) (*model.Interview, error) {
	if !model.ValidID(id) {
		return nil, nil
	}
	iv, err := scanInterview(r.db.QueryRowContext(ctx,
		`SELECT `+interviewColumns+` FROM interviews WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("面接の取得に失敗しました: %w", err)
	}
	return iv, nil
}

// FindByIDAndOwner は所有者でスコープした面接を取得する。見つからない場合はnilを返す。
func (r *PostgresInterviewRepo) FindByIDAndOwner(ctx context.Context, id, userID string) (*model.Interview, error) {
	if !model.ValidID(id) {
		return nil, nil
	}
	iv, err := scanInterview(r.db.QueryRowContext(ctx,
		`SELECT `+interviewColumns+` FROM interviews WHERE id = $1 AND user_id = $2`, id, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("面接の取得に失敗しました: %w", err)
	}
	return iv, nil
}

// ListByUserID はユーザーの面接一覧をcreated_at降順で返す。
func (r *PostgresInterviewRepo) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Interview, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+interviewColumns+`
		 FROM interviews
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("面接一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	interviews := []*model.Interview{}
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("面接の読み取りに失敗しました: %w", err)
		}
		interviews = append(interviews, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("面接一覧の走査に失敗しました: %w", err)
	}
	return interviews, nil
}

// Create は面接を作成する。
func (r *PostgresInterviewRepo) Create(ctx context.Context, iv *model.Interview) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO interviews (id, user_id, title, job_role, job_description, interview_type, status,
		                         recording_key, recording_content_type, transcript, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		iv.ID, iv.UserID, iv.Title, iv.JobRole, iv.JobDescription, iv.InterviewType, iv.Status,
		iv.RecordingKey, iv.RecordingContentType, iv.Transcript, iv.CreatedAt, iv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("面接の作成に失敗しました: %w", err)
	}
	return nil
}

// Update はタイトル・職種・求人票・種別・状態を更新する。
func (r *PostgresInterviewRepo) Update(ctx context.Context, iv *model.Interview) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE interviews SET
		    title = $3, job_role = $4, job_description = $5,
		    interview_type = $6, status = $7, updated_at = $8
		 WHERE id = $1 AND user_id = $2`,
		iv.ID, iv.UserID, iv.Title, iv.JobRole, iv.JobDescription,
		iv.InterviewType, iv.Status, iv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("面接の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateRecording は録画のオブジェクトキーとContent-Typeを保存し、状態をcompletedにする。
// 文字起こしは録画に紐づくため、差し替え時に破棄する。
// 行ロックを取って旧キーを読むため、同時に差し替えても各呼び出しは異なる旧キーを受け取る。
func (r *PostgresInterviewRepo) UpdateRecording(ctx context.Context, id, key, contentType string) (string, error) {
	var previous string
	err := r.db.QueryRowContext(ctx,
		`UPDATE interviews AS i SET
		    recording_key = $2, recording_content_type = $3, status = $4,
		    transcript = '', transcript_embedding = NULL, updated_at = now()
		 FROM (SELECT id, recording_key FROM interviews WHERE id = $1 FOR UPDATE) AS old
		 WHERE i.id = old.id
		 RETURNING old.recording_key`,
		id, key, contentType, model.InterviewStatusCompleted,
	).Scan(&previous)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("録画情報の更新に失敗しました: %w", err)
	}
	return previous, nil
}

// UpdateTranscript は文字起こし結果と埋め込みベクトルを保存する。
func (r *PostgresInterviewRepo) UpdateTranscript(ctx context.Context, id, transcript string, embedding []float64) error {
	var arr any
	if len(embedding) > 0 {
		arr = pq.Array(embedding)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE interviews SET transcript = $2, transcript_embedding = $3, updated_at = now() WHERE id = $1`,
		id, transcript, arr,
	)
	if err != nil {
		return fmt.Errorf("文字起こしの保存に失敗しました: %w", err)
	}
	return nil
}

// Delete は所有者でスコープして面接を削除する。
func (r *PostgresInterviewRepo) Delete(ctx context.Context, id, userID string) (bool, error) {
	if !model.ValidID(id) {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM interviews WHERE id = $1 AND user_id = $2`, id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("面接の削除に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// ListRecordingKeysByUserID はユーザーの全録画オブジェクトキーを返す。
func (r *PostgresInterviewRepo) ListRecordingKeysByUserID(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT recording_key FROM interviews WHERE user_id = $1 AND recording_key <> ''`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("録画キーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("録画キーの読み取りに失敗しました: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("録画キーの走査に失敗しました: %w", err)
	}
	return keys, nil
}

// DeleteByUserID はユーザーの全面接を削除する。
func (r *PostgresInterviewRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM interviews WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("ユーザーの面接削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ InterviewRepository = (*PostgresInterviewRepo)(nil)
