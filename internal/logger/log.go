// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"logscan/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로그램 시작 시 한 번만 호출되는 로거 초기화 함수.
//
// [주요 기능]
//
//  1. 출력 위치: stdout 은 매칭 리포트 전용이므로 로그는 항상 stderr 로 보낸다.
//
//  2. 로그 포맷 자동 전환:
//     - LOG_PRETTY=true : 사람이 읽는 콘솔 포맷
//     - LOG_PRETTY=false: JSON 포맷 (수집/분석 시스템용)
//
//  3. 공통 필드: "service", "instance", "run" (스캔 실행마다 새 uuid)
//
//  4. 샘플링: Debug/Info 는 LOG_SAMPLE_N 중 1개만 기록, Warn/Error 는 100% 기록.
//
// 사용 예:
//
//	logger.Init(cfg, runID)
//	log.Info().Msg("scan started")
func Init(cfg config.Config, runID string) {
	InitWriter(cfg, runID, os.Stderr)
}

// InitWriter 는 Init 과 같지만 출력 대상을 지정할 수 있다. (테스트용)
func InitWriter(cfg config.Config, runID string, out io.Writer) {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = out
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	}

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Str("run", runID).
		Logger()

	logger := base
	if cfg.LogSampleN > 1 {
		logger = base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}

	zlog.Logger = logger

	// 표준 log 패키지 출력도 zerolog 로 연결
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
