// internal/model/event.go
package model

import (
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// Format
// ------------------------------------------------------------
// 확장자로 추론한 로그 파일 형식.
// json, gz 이외의 확장자는 탐색 단계에서 제외된다.
type Format string

const (
	FormatJSON    Format = "json" // plain JSON text
	FormatGzip    Format = "gz"   // gzip 압축된 JSON text
	FormatUnknown Format = ""
)

// FormatOf 는 경로의 마지막 확장자로 형식을 판단한다.
// "a.json.gz" 는 gz, "a.JSON" 은 대소문자 구분으로 제외된다.
func FormatOf(path string) Format {
	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case string(FormatJSON):
		return FormatJSON
	case string(FormatGzip):
		return FormatGzip
	}
	return FormatUnknown
}

// FileRef
// ------------------------------------------------------------
// 탐색 단계에서 찾은 스캔 대상 파일 1개.
// 생성 이후 변경되지 않는다.
type FileRef struct {
	Path   string
	Format Format
	Size   int64 // 디스크 상 크기 (압축 상태 그대로)
}

// Event
// ------------------------------------------------------------
// envelope 에서 꺼낸 JSON 값 1개를 감싼 정규화 이벤트.
// 파이프라인의 기본 단위로 Normalizer → Worker → Matcher 까지 그대로 전달된다.
//
// Data 는 JSON 디코딩 결과(map[string]any 가 일반적이지만
// array 원소가 object 가 아니면 다른 타입일 수 있다).
// 숫자는 float64 로 디코딩되므로, 원본 텍스트가 필요하면 Raw 를 쓴다.
type Event struct {
	Source string // 원본 파일 경로
	Index  int    // envelope 내 순서 (0부터)
	Data   any
	Raw    json.RawMessage // 원본 원소 JSON (compact). 요청했을 때만 채워짐
}

// Payload 는 리포트에 넣을 이벤트 값. Raw 가 있으면 Raw 를 우선한다.
func (e Event) Payload() any {
	if len(e.Raw) > 0 {
		return e.Raw
	}
	return e.Data
}

// Object 는 Data 가 JSON object 이면 그 map 을 반환한다.
func (e Event) Object() (map[string]any, bool) {
	m, ok := e.Data.(map[string]any)
	return m, ok
}

// Match
// ------------------------------------------------------------
// matcher 가 이벤트 1개에 대해 돌려준 rule 매칭 정보.
type Match struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Report
// ------------------------------------------------------------
// 매칭이 1개 이상인 이벤트의 출력 단위.
// Stdout / S3 sink 모두 이 구조체를 한 줄 JSON 으로 기록한다.
type Report struct {
	File    string  `json:"file"`
	Index   int     `json:"index"`
	Matches []Match `json:"matches"`
	Event   any     `json:"event,omitempty"`
}
