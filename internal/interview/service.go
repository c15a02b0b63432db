// Package interview は模擬面接と録画の管理を提供する。
package interview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hirely/hirely-api/internal/model"
	"github.com/hirely/hirely-api/internal/repository"
	"github.com/hirely/hirely-api/internal/security"
	"github.com/hirely/hirely-api/internal/storage"
)

const (
	// DefaultListLimit は一覧取得の既定件数。
	DefaultListLimit = 20
	// MaxListLimit は一覧取得の最大件数。
	MaxListLimit = 100

	maxTitleLength          = 200
	maxJobRoleLength        = 200
	maxJobDescriptionLength = 20000
)

// RecordingStore は録画ファイルを保存するオブジェクトストレージ。
type RecordingStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// RemoteFetcher はユーザー指定URLから録画を取得する。
type RemoteFetcher interface {
	Fetch(ctx context.Context, rawURL string, maxBytes int64) (*security.Download, error)
}

// Input は面接の作成・更新の入力。
type Input struct {
	Title          string
	JobRole        string
	JobDescription string
	InterviewType  model.InterviewType
}

// UpdateInput は面接の部分更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Title          *string
	JobRole        *string
	JobDescription *string
	InterviewType  *model.InterviewType
	Status         *model.InterviewStatus
}

// RecordingURL は録画の署名付きダウンロードURL。
type RecordingURL struct {
	URL       string
	ExpiresAt time.Time
}

// Service は面接管理のサービス層。
type Service struct {
	repo       repository.InterviewRepository
	store      RecordingStore
	fetcher    RemoteFetcher
	maxBytes   int64
	presignTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.InterviewRepository, store RecordingStore, fetcher RemoteFetcher, maxBytes int64, presignTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &Service{
		repo:       repo,
		store:      store,
		fetcher:    fetcher,
		maxBytes:   maxBytes,
		presignTTL: presignTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// MaxRecordingBytes は録画ファイルの上限サイズを返す。
func (s *Service) MaxRecordingBytes() int64 {
	return s.maxBytes
}

// Create は面接を作成する。面接種別の既定値はmixed。
func (s *Service) Create(ctx context.Context, userID string, in Input) (*model.Interview, error) {
	if in.InterviewType == "" {
		in.InterviewType = model.InterviewTypeMixed
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	iv := &model.Interview{
		ID:             uuid.NewString(),
		UserID:         userID,
		Title:          strings.TrimSpace(in.Title),
		JobRole:        strings.TrimSpace(in.JobRole),
		JobDescription: strings.TrimSpace(in.JobDescription),
		InterviewType:  in.InterviewType,
		Status:         model.InterviewStatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, iv); err != nil {
		return nil, fmt.Errorf("面接の作成に失敗しました: %w", err)
	}
	return iv, nil
}

// List はユーザーの面接一覧を新しい順に返す。limitは最大100件に丸める。
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]*model.Interview, error) {
	if limit < 0 || offset < 0 {
		return nil, model.NewValidationError("limit and offset must not be negative")
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	interviews, err := s.repo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("面接一覧の取得に失敗しました: %w", err)
	}
	if interviews == nil {
		interviews = []*model.Interview{}
	}
	return interviews, nil
}

// Get は所有者でスコープした面接を返す。存在しない場合・他ユーザーの場合はNotFound。
func (s *Service) Get(ctx context.Context, id, userID string) (*model.Interview, error) {
	if !model.ValidID(id) {
		return nil, model.NewInterviewNotFoundError()
	}
	iv, err := s.repo.FindByIDAndOwner(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("面接の取得に失敗しました: %w", err)
	}
	if iv == nil {
		return nil, model.NewInterviewNotFoundError()
	}
	return iv, nil
}

// ValidateOwnership は分析開始前の所有権検証を行う。
// 存在しない面接・他ユーザーの面接はValidationErrorとする。
func (s *Service) ValidateOwnership(ctx context.Context, id, userID string) (*model.Interview, error) {
	if !model.ValidID(id) {
		return nil, model.NewValidationError("Interview not found or not owned by user")
	}
	iv, err := s.repo.FindByIDAndOwner(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("面接の取得に失敗しました: %w", err)
	}
	if iv == nil {
		return nil, model.NewValidationError("Interview not found or not owned by user")
	}
	return iv, nil
}

// Update は面接を部分更新する。
func (s *Service) Update(ctx context.Context, id, userID string, in UpdateInput) (*model.Interview, error) {
	iv, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		iv.Title = strings.TrimSpace(*in.Title)
	}
	if in.JobRole != nil {
		iv.JobRole = strings.TrimSpace(*in.JobRole)
	}
	if in.JobDescription != nil {
		iv.JobDescription = strings.TrimSpace(*in.JobDescription)
	}
	if in.InterviewType != nil {
		iv.InterviewType = *in.InterviewType
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, model.NewValidationError("status must be one of scheduled, in_progress, completed")
		}
		iv.Status = *in.Status
	}
	if err := validateInput(Input{
		Title:          iv.Title,
		JobRole:        iv.JobRole,
		JobDescription: iv.JobDescription,
		InterviewType:  iv.InterviewType,
	}); err != nil {
		return nil, err
	}

	iv.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, iv); err != nil {
		return nil, fmt.Errorf("面接の更新に失敗しました: %w", err)
	}
	return iv, nil
}

// Delete は面接を削除する。関連する分析はCASCADEで削除され、録画もストレージから削除する。
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	iv, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}

	deleted, err := s.repo.Delete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("面接の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewInterviewNotFoundError()
	}

	if iv.HasRecording() {
		s.removeObject(ctx, iv.RecordingKey)
	}
	return nil
}

// UploadRecording はアップロードされた録画をストレージに保存し、面接に紐付ける。
// sizeが不明な場合は-1を指定する。
func (s *Service) UploadRecording(ctx context.Context, id, userID string, r io.Reader, size int64, contentType, filename string) (*model.Interview, error) {
	iv, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, model.NewPayloadTooLargeError(s.maxBytes)
	}
	return s.storeRecording(ctx, iv, r, size, contentType, path.Ext(filename))
}

// ImportRecording は公開URLから録画をダウンロードして保存する。
// ダウンロードはSSRF対策済みのクライアントで行う。
func (s *Service) ImportRecording(ctx context.Context, id, userID, rawURL string) (*model.Interview, error) {
	iv, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rawURL) == "" {
		return nil, model.NewValidationError("url is required")
	}

	dl, err := s.fetcher.Fetch(ctx, rawURL, s.maxBytes)
	if err != nil {
		if errors.Is(err, security.ErrTooLarge) {
			return nil, model.NewPayloadTooLargeError(s.maxBytes)
		}
		s.logger.Warn("recording import failed",
			slog.String("interview_id", id),
			slog.String("error", err.Error()),
		)
		return nil, model.NewValidationError("Recording could not be downloaded from the given URL")
	}
	defer dl.Body.Close()

	var ext string
	if u, err := url.Parse(rawURL); err == nil {
		ext = path.Ext(u.Path)
	}
	return s.storeRecording(ctx, iv, dl.Body, dl.Size, dl.ContentType, ext)
}

func (s *Service) storeRecording(ctx context.Context, iv *model.Interview, r io.Reader, size int64, contentType, ext string) (*model.Interview, error) {
	mediaType, err := normalizeMediaType(contentType)
	if err != nil {
		return nil, err
	}
	if ext == "" || len(ext) > 8 {
		ext = extensionFor(mediaType)
	}

	key := storage.RecordingKey(iv.UserID, iv.ID, ext)
	body := &overflowReader{r: r, limit: s.maxBytes}
	if err := s.store.Put(ctx, key, body, size, mediaType); err != nil {
		if body.tooLarge {
			return nil, model.NewPayloadTooLargeError(s.maxBytes)
		}
		return nil, fmt.Errorf("録画の保存に失敗しました: %w", err)
	}

	previous, err := s.repo.UpdateRecording(ctx, iv.ID, key, mediaType)
	if err != nil {
		s.removeObject(ctx, key)
		return nil, fmt.Errorf("録画情報の更新に失敗しました: %w", err)
	}

	iv.RecordingKey = key
	iv.RecordingContentType = mediaType
	iv.Status = model.InterviewStatusCompleted
	iv.UpdatedAt = s.now().UTC()

	if previous != "" && previous != key {
		s.removeObject(ctx, previous)
	}

	s.logger.Info("recording stored",
		slog.String("interview_id", iv.ID),
		slog.String("user_id", iv.UserID),
		slog.String("content_type", mediaType),
		slog.Int64("size", size),
	)
	return iv, nil
}

// RecordingURL は録画の署名付きダウンロードURLを発行する。
func (s *Service) RecordingURL(ctx context.Context, id, userID string) (*RecordingURL, error) {
	iv, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !iv.HasRecording() {
		return nil, model.NewNotFoundError("Recording")
	}

	expiresAt := s.now().UTC().Add(s.presignTTL)
	u, err := s.store.PresignGet(ctx, iv.RecordingKey, s.presignTTL)
	if err != nil {
		return nil, fmt.Errorf("署名付きURLの発行に失敗しました: %w", err)
	}
	return &RecordingURL{URL: u, ExpiresAt: expiresAt}, nil
}

// removeObject はストレージのオブジェクトを削除する。失敗はログのみ。
func (s *Service) removeObject(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to delete recording object",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func validateInput(in Input) error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.NewValidationError("title is required")
	}
	if len([]rune(title)) > maxTitleLength {
		return model.NewValidationError(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	if len([]rune(in.JobRole)) > maxJobRoleLength {
		return model.NewValidationError(fmt.Sprintf("job_role must be at most %d characters", maxJobRoleLength))
	}
	if len([]rune(in.JobDescription)) > maxJobDescriptionLength {
		return model.NewValidationError(fmt.Sprintf("job_description must be at most %d characters", maxJobDescriptionLength))
	}
	if !in.InterviewType.Valid() {
		return model.NewValidationError("interview_type must be one of behavioral, technical, mixed")
	}
	return nil
}

// normalizeMediaType はContent-Typeからパラメータを除き、音声・動画のみを受け付ける。
func normalizeMediaType(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", model.NewValidationError("Recording must be an audio or video file")
	}
	mediaType = strings.ToLower(mediaType)
	if !strings.HasPrefix(mediaType, "audio/") && !strings.HasPrefix(mediaType, "video/") {
		return "", model.NewValidationError("Recording must be an audio or video file")
	}
	return mediaType, nil
}

// recordingExtensions はmimeパッケージの登録に依存しない既知の拡張子。
var recordingExtensions = map[string]string{
	"video/webm":      ".webm",
	"audio/webm":      ".webm",
	"video/mp4":       ".mp4",
	"audio/mp4":       ".m4a",
	"audio/mpeg":      ".mp3",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/ogg":       ".ogg",
	"video/quicktime": ".mov",
}

func extensionFor(mediaType string) string {
	if ext, ok := recordingExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// overflowReader は上限を超えて読まれた場合、または下位のReaderがErrTooLargeを返した場合に
// ErrTooLargeを返し、そのことを記録する。
// ストレージクライアントがエラーをラップせずに返す場合でもサイズ超過を判別するため。
// limitが0以下の場合は上限を設けない。
type overflowReader struct {
	r        io.Reader
	limit    int64
	read     int64
	tooLarge bool
}

func (o *overflowReader) Read(p []byte) (int, error) {
	n, err := o.r.Read(p)
	if errors.Is(err, security.ErrTooLarge) {
		o.tooLarge = true
		return n, err
	}
	o.read += int64(n)
	if o.limit > 0 && o.read > o.limit {
		o.tooLarge = true
		return n, security.ErrTooLarge
	}
	return n, err
}
