// internal/report/s3_uploader.go
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"logscan/internal/config"
	"logscan/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI 는 S3Uploader 가 쓰는 S3 client 의 부분 집합.
// 테스트에서는 fake 로 바꿔 끼운다.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// S3Uploader 는 리포트 배치를 S3 에 올린다.
//   - 메모리 상 gzip+JSONL 바이트 업로드 (UploadBytesWithRetryCtx)
//   - spool 파일 재업로드 (UploadFileWithRetryCtx)
//
// SDK 자체 retry 는 끄고(RetryMaxAttempts=0) AppRetries 만큼 직접 재시도한다.
// 각 시도는 Timeout 을 가지며 ctx 취소 시 즉시 중단한다.
type S3Uploader struct {
	cfg     config.S3ReportConfig
	metrics *metrics.Metrics
	client  PutObjectAPI
	backoff time.Duration
}

// NewS3Uploader 는 AWS 기본 자격 증명 체인으로 S3 client 를 만든다.
func NewS3Uploader(ctx context.Context, cfg config.S3ReportConfig, m *metrics.Metrics) (*S3Uploader, error) {
	var opts []func(*awsCfgLib.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsCfgLib.WithRegion(cfg.Region))
	}
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})
	return NewS3UploaderWithClient(cfg, m, client), nil
}

// NewS3UploaderWithClient 는 이미 만들어진 client 를 사용한다.
func NewS3UploaderWithClient(cfg config.S3ReportConfig, m *metrics.Metrics, client PutObjectAPI) *S3Uploader {
	return &S3Uploader{
		cfg:     cfg,
		metrics: m,
		client:  client,
		backoff: initialBackoff,
	}
}

// UploadBytesWithRetryCtx 는 메모리에 있는 배치를 업로드한다.
// 재시도마다 reader 를 새로 만든다.
func (u *S3Uploader) UploadBytesWithRetryCtx(ctx context.Context, key string, body []byte) error {
	return u.withRetry(ctx, key, func() error {
		return u.putObject(ctx, key, bytes.NewReader(body), int64(len(body)))
	})
}

// UploadFileWithRetryCtx 는 spool 파일을 업로드한다.
// 재시도 전에 Seek(0) 으로 되감는다.
func (u *S3Uploader) UploadFileWithRetryCtx(ctx context.Context, key string, f io.ReadSeeker, size int64) error {
	return u.withRetry(ctx, key, func() error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return u.putObject(ctx, key, f, size)
	})
}

func (u *S3Uploader) withRetry(ctx context.Context, key string, put func() error) error {
	attempts := u.cfg.AppRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	backoff := u.backoff

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := put()
		if err == nil {
			return nil
		}
		lastErr = err
		atomic.AddInt64(&u.metrics.S3PutErrorsTotal, 1)

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}

	return fmt.Errorf("put s3://%s/%s after %d attempts: %w", u.cfg.Bucket, key, attempts, lastErr)
}

// putObject 는 PutObject 1회 호출. 시도마다 Timeout 적용.
func (u *S3Uploader) putObject(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx2, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	_, err := u.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:          aws.String(u.cfg.Bucket),
		Key:             aws.String(key),
		Body:            body,
		ContentLength:   aws.Int64(size),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}
