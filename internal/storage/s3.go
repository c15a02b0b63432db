// Package storage は録画ファイルを保存するS3互換オブジェクトストレージのクライアントを提供する。
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options はS3Storeの接続設定。
type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3Store はminio-goを使用したS3互換ストレージ。
type S3Store struct {
	client *minio.Client
	bucket string
	region string
}

// NewS3Store はS3Storeを生成する。
// 生成時には接続しない。バケットの存在確認はEnsureBucketで行う。
func NewS3Store(opts Options) (*S3Store, error) {
	endpoint := normalizeEndpoint(opts.Endpoint, opts.Region)

	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &S3Store{client: cli, bucket: opts.Bucket, region: opts.Region}, nil
}

// EnsureBucket はバケットが存在しない場合に作成する。
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// unknownSizePartSize はサイズ不明のアップロードで使うマルチパートのパートサイズ。
// 未指定だとminio-goは5TiBを前提にした巨大なバッファを確保する。
const unknownSizePartSize = 16 << 20

// Put はオブジェクトをアップロードする。sizeが不明な場合は-1を指定する。
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if size < 0 {
		opts.PartSize = unknownSizePartSize
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, opts)
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

// PresignGet は期限付きのダウンロードURLを発行する。
func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return u.String(), nil
}

// Delete はオブジェクトを削除する。存在しないキーはエラーにならない。
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// RecordingKey は録画のオブジェクトキーを組み立てる。
// 形式: recordings/<user>/<interview>/<uuid><ext>
func RecordingKey(userID, interviewID, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join("recordings", userID, interviewID, uuid.NewString()+strings.ToLower(ext))
}

// normalizeEndpoint はminio.Newが受け付けるhost[:port]形式に変換する。
// 未指定の場合はAWS S3のリージョンエンドポイントを使用する。
func normalizeEndpoint(endpoint, region string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		if region == "" || region == "us-east-1" {
			return "s3.amazonaws.com"
		}
		return "s3." + region + ".amazonaws.com"
	}
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimRight(endpoint, "/")
}
