package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Metrics 는 한 번의 스캔 실행 동안의 진단 카운터 모음이다.
// 파일/이벤트 단위 에러는 스캔을 멈추지 않으므로,
// 무엇이 왜 건너뛰어졌는지는 여기 카운터로만 확인할 수 있다.
type Metrics struct {
	// ======================
	// 파일 탐색
	// ======================

	// FilesDiscoveredTotal / BytesDiscoveredTotal
	// - 확장자 필터(json, gz)를 통과한 파일 수와 디스크 상 크기 합계.
	FilesDiscoveredTotal int64
	BytesDiscoveredTotal int64

	// DirsSkippedTotal
	// - 읽기 실패(권한, 탐색 중 삭제)로 건너뛴 하위 디렉토리 수.
	// - root 디렉토리 실패는 여기 포함되지 않고 fatal 로 처리된다.
	DirsSkippedTotal int64

	// DirsRevisitedTotal
	// - 이미 방문한 디렉토리(심볼릭 링크 cycle 등)를 다시 만나서 건너뛴 횟수.
	DirsRevisitedTotal int64

	// ======================
	// 파일 처리
	// ======================

	// FilesProcessedTotal
	// - 로딩과 JSON 파싱까지 성공한 파일 수 (이벤트 0개 포함).
	FilesProcessedTotal int64

	// FilesSkippedLoadTotal
	// - I/O 에러, gzip 손상, UTF-8 아님, 크기 초과로 건너뛴 파일 수.
	FilesSkippedLoadTotal int64

	// FilesSkippedParseTotal
	// - JSON 파싱 실패로 건너뛴 파일 수.
	FilesSkippedParseTotal int64

	// FilesUnexpectedShapeTotal
	// - top-level 이 array/object 가 아닌 파일 수 (string, number, bool, null).
	FilesUnexpectedShapeTotal int64

	// EnvelopesMissingRecordsTotal
	// - object 이지만 "Records" 키가 없거나 array 가 아닌 파일 수.
	// - 에러는 아니지만 의도된 입력인지 운영자가 판단할 수 있도록 센다.
	EnvelopesMissingRecordsTotal int64

	// ======================
	// 이벤트 / 매칭
	// ======================

	EventsExtractedTotal int64 // normalizer 가 만든 이벤트 수
	EventsMatchedTotal   int64 // 1개 이상 rule 이 매칭된 이벤트 수
	MatchErrorsTotal     int64 // matcher 호출 실패로 건너뛴 이벤트 수
	RuleHitsTotal        int64 // 매칭된 rule 수 합계 (이벤트 하나에 여러 rule 가능)

	// ======================
	// 리포트 출력
	// ======================

	ReportsWrittenTotal int64 // sink 에 정상 기록된 리포트 수
	ReportErrorsTotal   int64 // sink 기록 실패 수

	// S3 리포트 sink
	ReportBatchesUploadedTotal int64
	S3PutErrorsTotal           int64 // PutObject 실패 "시도" 횟수

	// 업로드 실패 배치를 로컬 spool 에 보관한 수 / 용량 초과로 버린 리포트 수
	SpoolReportsSavedTotal   int64
	SpoolReportsDroppedTotal int64
	SpoolFilesExpiredTotal   int64
	SpoolSizeBytes           int64
}

func New() *Metrics {
	return &Metrics{}
}

// Snapshot 은 카운터 이름 → 값 목록을 출력 순서대로 돌려준다.
func (m *Metrics) Snapshot() []Counter {
	return []Counter{
		{"files_discovered_total", atomic.LoadInt64(&m.FilesDiscoveredTotal)},
		{"bytes_discovered_total", atomic.LoadInt64(&m.BytesDiscoveredTotal)},
		{"dirs_skipped_total", atomic.LoadInt64(&m.DirsSkippedTotal)},
		{"dirs_revisited_total", atomic.LoadInt64(&m.DirsRevisitedTotal)},

		{"files_processed_total", atomic.LoadInt64(&m.FilesProcessedTotal)},
		{"files_skipped_load_total", atomic.LoadInt64(&m.FilesSkippedLoadTotal)},
		{"files_skipped_parse_total", atomic.LoadInt64(&m.FilesSkippedParseTotal)},
		{"files_unexpected_shape_total", atomic.LoadInt64(&m.FilesUnexpectedShapeTotal)},
		{"envelopes_missing_records_total", atomic.LoadInt64(&m.EnvelopesMissingRecordsTotal)},

		{"events_extracted_total", atomic.LoadInt64(&m.EventsExtractedTotal)},
		{"events_matched_total", atomic.LoadInt64(&m.EventsMatchedTotal)},
		{"match_errors_total", atomic.LoadInt64(&m.MatchErrorsTotal)},
		{"rule_hits_total", atomic.LoadInt64(&m.RuleHitsTotal)},

		{"reports_written_total", atomic.LoadInt64(&m.ReportsWrittenTotal)},
		{"report_errors_total", atomic.LoadInt64(&m.ReportErrorsTotal)},
		{"report_batches_uploaded_total", atomic.LoadInt64(&m.ReportBatchesUploadedTotal)},
		{"s3_put_errors_total", atomic.LoadInt64(&m.S3PutErrorsTotal)},
		{"spool_reports_saved_total", atomic.LoadInt64(&m.SpoolReportsSavedTotal)},
		{"spool_reports_dropped_total", atomic.LoadInt64(&m.SpoolReportsDroppedTotal)},
		{"spool_files_expired_total", atomic.LoadInt64(&m.SpoolFilesExpiredTotal)},
		{"spool_size_bytes", atomic.LoadInt64(&m.SpoolSizeBytes)},
	}
}

// Counter 는 Snapshot 의 한 항목.
type Counter struct {
	Name  string
	Value int64
}

// SkippedTotal 은 파일/이벤트 단위로 건너뛴 항목의 합계.
func (m *Metrics) SkippedTotal() int64 {
	return atomic.LoadInt64(&m.FilesSkippedLoadTotal) +
		atomic.LoadInt64(&m.FilesSkippedParseTotal) +
		atomic.LoadInt64(&m.MatchErrorsTotal)
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)
	for _, c := range m.Snapshot() {
		fmt.Fprintf(&sb, "%s=%d\n", c.Name, c.Value)
	}
	return sb.String()
}

// MarshalZerologObject 로 요약 로그에 카운터를 그대로 붙인다.
//
//	log.Info().EmbedObject(m).Msg("scan summary")
func (m *Metrics) MarshalZerologObject(e *zerolog.Event) {
	for _, c := range m.Snapshot() {
		e.Int64(c.Name, c.Value)
	}
}
