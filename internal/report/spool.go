// internal/report/spool.go
package report

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"logscan/internal/config"
	"logscan/internal/metrics"
	"logscan/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const metaSuffix = ".meta.json"

// Spool 은 S3 업로드에 실패한 리포트 배치를 로컬 디스크에 보관하고,
// 다음 기회(sink Close, 다음 실행)에 재업로드한다.
//
//   - data: <unix>_<instance>_<counter>.jsonl.gz (업로드하려던 바이트 그대로)
//   - meta: <data>.meta.json ({"num_reports":N})
//
// 용량 상한(SpoolMaxSizeBytes)을 넘으면 가장 오래된 파일부터 지운다.
// TTL 판단은 파일명 prefix 의 Unix timestamp 기준이다.
type Spool struct {
	dir      string
	maxBytes int64
	maxAge   time.Duration
	metrics  *metrics.Metrics

	// 현재 spool 디렉토리에 있는 data 파일 총 바이트 수
	sizeBytes int64
}

// NewSpool 은 디렉토리를 만들고 기존 파일 크기를 복원한다.
// data 없이 남은 meta 파일(orphan)은 정리한다.
func NewSpool(cfg config.S3ReportConfig, m *metrics.Metrics) (*Spool, error) {
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	s := &Spool{
		dir:      cfg.SpoolDir,
		maxBytes: cfg.SpoolMaxSizeBytes,
		maxAge:   cfg.SpoolMaxAge,
		metrics:  m,
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read spool dir: %w", err)
	}

	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		if strings.HasSuffix(name, metaSuffix) {
			dataName := strings.TrimSuffix(name, metaSuffix)
			if _, err := os.Stat(filepath.Join(s.dir, dataName)); os.IsNotExist(err) {
				_ = os.Remove(filepath.Join(s.dir, name))
			}
			continue
		}

		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}

	atomic.StoreInt64(&s.sizeBytes, total)
	atomic.AddInt64(&m.SpoolSizeBytes, total)
	return s, nil
}

// Save 는 업로드 실패 배치를 name 으로 저장한다.
// 용량을 확보하지 못하면 배치를 버리고 SpoolReportsDroppedTotal 에 센다.
func (s *Spool) Save(name string, data []byte, numReports int) error {
	if len(data) == 0 || numReports <= 0 {
		return nil
	}

	size := int64(len(data))
	if !s.ensureCapacity(size) {
		log.Error().Int64("bytes", size).Int("reports", numReports).Msg("spool full, dropping batch")
		atomic.AddInt64(&s.metrics.SpoolReportsDroppedTotal, int64(numReports))
		return nil
	}

	dataPath := filepath.Join(s.dir, name)
	if err := os.WriteFile(dataPath, data, 0o600); err != nil {
		return fmt.Errorf("spool save %s: %w", name, err)
	}

	// meta 가 없으면 재업로드 시 reports=1 로 집계된다. data 는 그대로 보관한다.
	meta := []byte(fmt.Sprintf(`{"num_reports":%d}`, numReports))
	if err := os.WriteFile(dataPath+metaSuffix, meta, 0o600); err != nil {
		log.Warn().Err(err).Str("file", name).Int("reports", numReports).Msg("spool meta write failed")
	}

	s.addSize(size)
	atomic.AddInt64(&s.metrics.SpoolReportsSavedTotal, int64(numReports))
	return nil
}

// Len 은 현재 보관 중인 data 파일 수.
func (s *Spool) Len() int {
	return len(s.list())
}

// ensureCapacity 는 maxBytes 를 넘지 않도록 가장 오래된 파일부터 지운다.
// 지울 파일이 더 없으면 false.
func (s *Spool) ensureCapacity(incoming int64) bool {
	if s.maxBytes <= 0 {
		return true
	}
	if incoming > s.maxBytes {
		return false
	}

	for atomic.LoadInt64(&s.sizeBytes)+incoming > s.maxBytes {
		oldest := s.pickOldest()
		if oldest == "" {
			return false
		}
		s.remove(oldest)
		atomic.AddInt64(&s.metrics.SpoolFilesExpiredTotal, 1)
		log.Warn().Str("file", oldest).Msg("spool capacity, removed oldest batch")
	}
	return true
}

// ReplayOne 은 가장 오래된 파일 1개를 재업로드한다.
//   - TTL 초과: 삭제만 한다
//   - 첫 줄이 JSON 이 아닌 손상 파일: 삭제한다
//   - 업로드 성공: 삭제하고 ReportBatchesUploadedTotal 증가
//
// 처리할 파일이 없거나 업로드에 실패하면 false 를 반환한다.
func (s *Spool) ReplayOne(ctx context.Context, up *S3Uploader, prefix string) bool {
	if ctx.Err() != nil {
		return false
	}

	name := s.pickOldest()
	if name == "" {
		return false
	}
	dataPath := filepath.Join(s.dir, name)

	info, err := os.Stat(dataPath)
	if err != nil {
		_ = os.Remove(dataPath + metaSuffix)
		return true
	}
	size := info.Size()

	sec, hasTS := extractUnixFromFilename(name)
	if s.maxAge > 0 && hasTS {
		age := now().Sub(time.Unix(sec, 0))
		if age > s.maxAge {
			s.remove(name)
			atomic.AddInt64(&s.metrics.SpoolFilesExpiredTotal, 1)
			log.Info().Str("file", name).Dur("age", age).Msg("spool TTL expired")
			return true
		}
	}

	f, err := os.Open(dataPath)
	if err != nil {
		log.Warn().Err(err).Str("file", name).Msg("spool open failed")
		return false
	}
	defer f.Close()

	if !validateFile(f, size) {
		f.Close()
		s.remove(name)
		atomic.AddInt64(&s.metrics.SpoolFilesExpiredTotal, 1)
		log.Warn().Str("file", name).Msg("spool file corrupt, removed")
		return true
	}

	at := now()
	if hasTS {
		at = time.Unix(sec, 0)
	}
	key := BuildS3Key(prefix, at, name)
	if err := up.UploadFileWithRetryCtx(ctx, key, f, size); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("spool reupload failed")
		return false
	}

	numReports := s.readMeta(name)
	f.Close()
	s.remove(name)
	atomic.AddInt64(&s.metrics.ReportBatchesUploadedTotal, 1)
	log.Info().Str("key", key).Int64("reports", numReports).Msg("spool batch reuploaded")
	return true
}

// readMeta 는 num_reports 를 읽는다. 없거나 깨져 있으면 1.
func (s *Spool) readMeta(name string) int64 {
	meta, err := os.ReadFile(filepath.Join(s.dir, name) + metaSuffix)
	if err != nil {
		return 1
	}
	var v struct {
		NumReports int64 `json:"num_reports"`
	}
	if json.Unmarshal(meta, &v) != nil || v.NumReports <= 0 {
		return 1
	}
	return v.NumReports
}

func (s *Spool) remove(name string) {
	dataPath := filepath.Join(s.dir, name)
	if info, err := os.Stat(dataPath); err == nil {
		s.addSize(-info.Size())
	}
	_ = os.Remove(dataPath)
	_ = os.Remove(dataPath + metaSuffix)
}

func (s *Spool) addSize(delta int64) {
	atomic.AddInt64(&s.sizeBytes, delta)
	atomic.AddInt64(&s.metrics.SpoolSizeBytes, delta)
}

// pickOldest 는 파일명(=timestamp) 기준 가장 오래된 data 파일.
// ReadDir 은 정렬을 보장하지 않으므로 직접 정렬한다.
func (s *Spool) pickOldest() string {
	files := s.list()
	if len(files) == 0 {
		return ""
	}
	return files[0]
}

func (s *Spool) list() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, metaSuffix) || name == "" || name[0] == '.' {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files
}

// validateFile 은 gzip 을 풀어 첫 JSONL 라인이 JSON object 인지 확인한다.
func validateFile(f *os.File, size int64) bool {
	if size <= 0 {
		return false
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false
	}

	zr, err := pool.GetGzipReader(f)
	if err != nil {
		return false
	}
	defer pool.PutGzipReader(zr)

	line, err := bufio.NewReader(zr).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return false
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}

	var tmp map[string]any
	return json.Unmarshal(line, &tmp) == nil
}
