package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logscan/internal/config"
	"logscan/internal/discover"
	"logscan/internal/logger"
	"logscan/internal/metrics"
	"logscan/internal/report"
	"logscan/internal/rules"
	"logscan/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// sink Close(남은 S3 배치 + spool 재업로드)에 주는 시간.
// 인터럽트 이후에도 이 시간만큼은 기다린다.
const closeTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run 은 main 의 본체. 종료 코드를 반환한다.
//   - 0: 정상 종료
//   - 1: 설정 오류, rule 로딩 실패, root 탐색 실패, 인터럽트
//   - 2: 인자 부족 / 잘못된 flag
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "logscan:", err)
		return exitFailure
	}

	if args == nil {
		// nil 이면 cobra 가 os.Args 를 다시 읽는다
		args = []string{}
	}
	cmd := newRootCmd(&cfg, stdout, stderr)
	cmd.SetArgs(args)

	err = cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var uerr *usageError
	if errors.As(err, &uerr) {
		fmt.Fprintln(stderr, "logscan:", err)
		fmt.Fprint(stderr, cmd.UsageString())
		return exitUsage
	}
	fmt.Fprintln(stderr, "logscan:", err)
	return exitFailure
}

// scan
// ====================================================================
//  1. 로거 / metrics / 리포트 sink 준비
//  2. rule 로딩 (실패 시 파일을 하나도 읽지 않고 종료)
//  3. 로그 디렉토리 탐색
//  4. Manager.Run: 로딩 → 정규화 → 매칭 → 리포트
//  5. sink Close, 경과 시간 + 진단 카운터 요약
//
// ====================================================================
func scan(ctx context.Context, cfg config.Config, rulesDir, logDir string, stdout, stderr io.Writer) error {
	runID := uuid.NewString()
	logger.InitWriter(cfg, runID, stderr)
	start := time.Now()

	m := metrics.New()

	sink, err := newSink(ctx, cfg, m, stdout)
	if err != nil {
		return err
	}

	mgr := worker.NewManager(cfg, m, sink)
	err = mgr.Init(func() (worker.Matcher, error) {
		c, err := rules.Load(rulesDir)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return err
	}

	res, err := discover.NewDiscoverer(cfg, m).Walk(logDir)
	if err != nil {
		return err
	}
	log.Info().
		Str("dir", logDir).
		Int("files", res.Count).
		Int64("bytes", res.TotalBytes).
		Int("workers", cfg.Workers).
		Msg("scan started")

	runErr := mgr.Run(ctx, res.Files)
	if runErr != nil {
		log.Warn().Err(runErr).Msg("scan interrupted, results are partial")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	closeErr := sink.Close(closeCtx)

	elapsed := time.Since(start)
	fmt.Fprintf(stderr, "Elapsed: %s\n", elapsed.Round(time.Millisecond))
	log.Info().
		Dur("elapsed", elapsed).
		Int64("skipped_total", m.SkippedTotal()).
		EmbedObject(m).
		Msg("scan summary")

	return errors.Join(runErr, closeErr)
}

// newSink 는 stdout sink 를 기본으로, S3 bucket 이 설정되어 있으면
// S3 sink 를 함께 묶는다.
func newSink(ctx context.Context, cfg config.Config, m *metrics.Metrics, stdout io.Writer) (report.Sink, error) {
	out := report.NewStdoutSink(stdout, cfg.ReportPretty)
	if !cfg.Report.Enabled() {
		return out, nil
	}

	uploader, err := report.NewS3Uploader(ctx, cfg.Report, m)
	if err != nil {
		return nil, err
	}
	s3Sink, err := report.NewS3Sink(cfg, m, uploader)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("bucket", cfg.Report.Bucket).
		Str("prefix", cfg.Report.Prefix).
		Msg("S3 report upload enabled")
	return report.MultiSink{out, s3Sink}, nil
}
