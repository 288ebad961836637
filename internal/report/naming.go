// internal/report/naming.go
package report

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// naming.go
// ------------------------------------------------------------
// S3 리포트 배치와 로컬 spool 파일이 같이 쓰는 이름 규칙.
//
// 파일명 규칙:
//
//	<unix>_<instance>_<counter>.jsonl.gz
//
// 예:
//
//	1764721594_scanner1_000042.jsonl.gz
//
// 정렬하면 곧 시간 순 정렬이므로,
// spool 에서 가장 오래된 배치부터 재업로드/정리할 때 그대로 사용한다.
var globalCounter uint64

// now 는 테스트에서 교체한다.
var now = time.Now

// NextCounter 는 goroutine 간 충돌 없는 순번을 만든다.
// 1,000,000 에서 0 으로 돌아간다.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename 은 <unix>_<instance>_<counter>.jsonl.gz 를 만든다.
func NewFilename(instanceID string) string {
	return fmt.Sprintf("%d_%s_%06d.jsonl.gz", now().Unix(), sanitize(instanceID), NextCounter())
}

// BuildS3Key
// ------------------------------------------------------------
// S3 파티션 구조:
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<filename>
//
// 파티션 시각은 UTC. Athena / Glue 파티션 스캔 비용을 줄이기 위한 구조.
func BuildS3Key(prefix string, at time.Time, filename string) string {
	at = at.UTC()
	key := fmt.Sprintf("dt=%s/hr=%s/%s", at.Format("2006-01-02"), at.Format("15"), filename)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// extractUnixFromFilename 은 파일명 prefix 에서 Unix seconds 를 파싱한다.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}

// sanitize 는 instance id 에서 파일명/키에 쓰기 곤란한 문자를 '-' 로 바꾼다.
// '_' 도 바꿔야 timestamp 파싱이 깨지지 않는다.
func sanitize(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '-'
	}, id)
}
