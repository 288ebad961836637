// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix 는 모든 환경변수 앞에 붙는 prefix 이다. (예: LOGSCAN_WORKERS)
const EnvPrefix = "LOGSCAN"

// Config
//
// 스캔 실행 시 필요한 모든 설정 값을 보관하는 구조체.
// Load() 에서 환경변수 기반으로 초기화되고, CLI flag 가 있으면 덮어쓴다.
// 스캔이 시작된 이후에는 변경되지 않는 read-only 값이다.
type Config struct {

	// ---------------------------
	// 실행 식별자 / 로깅
	// ---------------------------

	ServiceName string `envconfig:"SERVICE_NAME" default:"logscan"`
	InstanceID  string `envconfig:"INSTANCE_ID"` // 비어 있으면 hostname, 실패 시 랜덤 hex

	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty  bool   `envconfig:"LOG_PRETTY" default:"true"`
	LogSampleN uint32 `envconfig:"LOG_SAMPLE_N" default:"0"` // debug/info 샘플링 (0,1 = 전부 기록)

	// ---------------------------
	// 파일 탐색 / 로딩
	// ---------------------------

	MaxDepth       int   `envconfig:"MAX_DEPTH" default:"0"`          // 0 = 무제한
	FollowSymlinks bool  `envconfig:"FOLLOW_SYMLINKS" default:"true"` // 심볼릭 링크 디렉토리 추적 (cycle guard 적용)
	MaxFileBytes   int64 `envconfig:"MAX_FILE_BYTES" default:"0"`     // 압축 해제 후 최대 크기, 0 = 무제한

	// ---------------------------
	// 매칭 파이프라인
	// ---------------------------
	// 기본값 Workers=1: 파일/이벤트 순서 그대로 리포트된다.
	// 2 이상이면 처리량은 늘지만 리포트 순서는 보장되지 않는다.

	Workers      int           `envconfig:"WORKERS" default:"1"`
	QueueSize    int           `envconfig:"QUEUE_SIZE" default:"1024"` // producer → worker 이벤트 큐 (backpressure)
	MatchTimeout time.Duration `envconfig:"MATCH_TIMEOUT" default:"0s"`

	// ---------------------------
	// 리포트 출력
	// ---------------------------

	ReportPretty       bool `envconfig:"REPORT_PRETTY" default:"false"`
	ReportIncludeEvent bool `envconfig:"REPORT_INCLUDE_EVENT" default:"false"` // 리포트에 원본 이벤트 포함

	Report S3ReportConfig `envconfig:"REPORT"`
}

// S3ReportConfig
//
// 매칭 결과를 gzip+JSONL 배치로 S3 에 올릴 때의 설정.
// Bucket 이 비어 있으면 S3 sink 는 비활성화된다.
//
// SDK retry 는 0 으로 고정하고, 재시도는 AppRetries 로만 제어한다.
type S3ReportConfig struct {
	Region     string        `envconfig:"REGION"`
	Bucket     string        `envconfig:"BUCKET"`
	Prefix     string        `envconfig:"PREFIX" default:"logscan"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"5s"`
	AppRetries int           `envconfig:"APP_RETRIES" default:"3"`
	BatchSize  int           `envconfig:"BATCH_SIZE" default:"500"`

	SpoolDir          string        `envconfig:"SPOOL_DIR" default:"./logscan-spool"` // 업로드 실패 배치 로컬 보관
	SpoolMaxSizeBytes int64         `envconfig:"SPOOL_MAX_SIZE_BYTES" default:"104857600"`
	SpoolMaxAge       time.Duration `envconfig:"SPOOL_MAX_AGE" default:"168h"` // 파일명 timestamp 기준 TTL, 0 = 무제한
}

// Enabled 는 S3 리포트 업로드 사용 여부.
func (c S3ReportConfig) Enabled() bool {
	return c.Bucket != ""
}

// Load
//
// 환경변수(LOGSCAN_*) 기반으로 Config 를 만든다.
// 형식이 잘못된 값이 있으면 error 를 반환하고, 호출자(main)가 종료를 결정한다.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = fallbackInstanceID()
	}
	return cfg, nil
}

// Validate 는 값 사이의 관계와 범위를 검사한다.
// flag override 이후 한 번 더 호출해야 한다.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", c.Workers))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue size must be >= 1, got %d", c.QueueSize))
	}
	if c.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("max depth must be >= 0, got %d", c.MaxDepth))
	}
	if c.MaxFileBytes < 0 {
		errs = append(errs, fmt.Errorf("max file bytes must be >= 0, got %d", c.MaxFileBytes))
	}
	if c.MatchTimeout < 0 {
		errs = append(errs, fmt.Errorf("match timeout must be >= 0, got %s", c.MatchTimeout))
	}
	if c.Report.Enabled() {
		if c.Report.AppRetries < 1 {
			errs = append(errs, fmt.Errorf("report app retries must be >= 1, got %d", c.Report.AppRetries))
		}
		if c.Report.BatchSize < 1 {
			errs = append(errs, fmt.Errorf("report batch size must be >= 1, got %d", c.Report.BatchSize))
		}
		if c.Report.Timeout <= 0 {
			errs = append(errs, errors.New("report timeout must be > 0"))
		}
	}
	return errors.Join(errs...)
}

// fallbackInstanceID
//
// 이 스캐너 프로세스를 식별하는 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
