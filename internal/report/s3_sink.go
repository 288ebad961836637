// internal/report/s3_sink.go
package report

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"logscan/internal/config"
	"logscan/internal/metrics"
	"logscan/internal/model"

	"github.com/rs/zerolog/log"
)

// S3Sink
// ------------------------------------------------------------
// 리포트를 BatchSize 개씩 모아서
//   - gzip+JSONL 인코딩
//   - S3 업로드 (<prefix>/dt=/hr=/<unix>_<instance>_<counter>.jsonl.gz)
//   - 업로드 실패 시 로컬 spool 저장
//
// 을 수행한다. Close 에서 남은 배치를 올리고, spool 에 쌓인 배치도
// 재업로드를 시도한다.
type S3Sink struct {
	cfg        config.S3ReportConfig
	instanceID string
	metrics    *metrics.Metrics
	uploader   *S3Uploader
	spool      *Spool

	mu    sync.Mutex
	batch []*model.Report
}

func NewS3Sink(cfg config.Config, m *metrics.Metrics, uploader *S3Uploader) (*S3Sink, error) {
	spool, err := NewSpool(cfg.Report, m)
	if err != nil {
		return nil, err
	}
	return &S3Sink{
		cfg:        cfg.Report,
		instanceID: cfg.InstanceID,
		metrics:    m,
		uploader:   uploader,
		spool:      spool,
		batch:      make([]*model.Report, 0, cfg.Report.BatchSize),
	}, nil
}

// Write 는 리포트를 배치에 추가하고, BatchSize 에 도달하면 업로드한다.
// 업로드는 mutex 안에서 수행되므로 배치 순서가 유지된다.
func (s *S3Sink) Write(ctx context.Context, r *model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batch = append(s.batch, r)
	if len(s.batch) < s.cfg.BatchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

// Close 는 남은 배치를 올리고 spool 을 비운다.
// spool 재업로드는 best-effort: 한 번이라도 실패하면 멈추고 다음 실행으로 넘긴다.
func (s *S3Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.flushLocked(ctx)

	for n := s.spool.Len(); n > 0; n-- {
		if !s.spool.ReplayOne(ctx, s.uploader, s.cfg.Prefix) {
			break
		}
	}
	if left := s.spool.Len(); left > 0 {
		log.Warn().Int("files", left).Str("dir", s.cfg.SpoolDir).Msg("report batches left in spool")
	}
	return err
}

// flushLocked 는 현재 배치를 업로드한다.
// 업로드 실패 배치는 spool 로 가며, spool 저장까지 실패해야 error 를 반환한다.
func (s *S3Sink) flushLocked(ctx context.Context) error {
	if len(s.batch) == 0 {
		return nil
	}
	batch := s.batch
	// 새 slice 로 교체 (인코딩 중인 slice 재사용 금지)
	s.batch = make([]*model.Report, 0, s.cfg.BatchSize)

	data, err := EncodeBatchJSONLGZ(batch)
	if err != nil {
		atomic.AddInt64(&s.metrics.ReportErrorsTotal, int64(len(batch)))
		return fmt.Errorf("encode report batch: %w", err)
	}

	name := NewFilename(s.instanceID)
	key := BuildS3Key(s.cfg.Prefix, now(), name)

	if err := s.uploader.UploadBytesWithRetryCtx(ctx, key, data); err != nil {
		log.Warn().Err(err).Str("key", key).Int("reports", len(batch)).Msg("report upload failed, spooling")
		if err2 := s.spool.Save(name, data, len(batch)); err2 != nil {
			atomic.AddInt64(&s.metrics.ReportErrorsTotal, int64(len(batch)))
			return err2
		}
		return nil
	}

	atomic.AddInt64(&s.metrics.ReportBatchesUploadedTotal, 1)
	log.Debug().Str("key", key).Int("reports", len(batch)).Msg("report batch uploaded")
	return nil
}
