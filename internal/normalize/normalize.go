// internal/normalize/normalize.go
package normalize

import (
	"bytes"
	"fmt"

	"logscan/internal/model"

	json "github.com/goccy/go-json"
)

// RecordsKey 는 wrapped envelope 에서 이벤트 배열을 담는 키.
// (CloudTrail 등 AWS 로그 포맷)
const RecordsKey = "Records"

// Shape
// ------------------------------------------------------------
// 파일 top-level JSON 값의 형태.
// 에러가 아닌 0-event 결과도 어떤 형태였는지 구분해서 진단 카운터에 남긴다.
type Shape int

const (
	ShapeArray           Shape = iota // [ {...}, {...} ]
	ShapeRecords                      // {"Records": [ ... ]}
	ShapeMissingRecords               // object 이지만 Records 키 없음
	ShapeRecordsNotArray              // Records 가 array 가 아님
	ShapeUnexpected                   // string / number / bool / null
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeRecords:
		return "records"
	case ShapeMissingRecords:
		return "missing_records"
	case ShapeRecordsNotArray:
		return "records_not_array"
	case ShapeUnexpected:
		return "unexpected"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// Result 는 파일 1개의 정규화 결과.
type Result struct {
	Shape  Shape
	Events []model.Event
}

// Normalize 는 JSON 텍스트에서 이벤트를 꺼낸다.
//
//  1. 파싱 실패 → error (이벤트 0개)
//  2. array → 원소 하나가 이벤트 하나 (원소 형태는 검사하지 않음)
//  3. object → "Records" 가 array 이면 그 원소들, 아니면 이벤트 0개 (에러 아님)
//  4. 그 외 scalar → 이벤트 0개, ShapeUnexpected
//
// 이벤트 순서는 원본 배열 순서를 그대로 따른다.
func Normalize(source string, data []byte) (Result, error) {
	return normalize(source, data, false)
}

// NormalizeKeepRaw 는 Normalize 와 같고, 각 이벤트의 원본 JSON 텍스트를
// Event.Raw 에 남긴다. (리포트에 이벤트를 넣을 때 숫자 정밀도 유지용)
//
// Data 디코딩은 float64 라서 2^53 보다 큰 정수는 값이 바뀐다.
func NormalizeKeepRaw(source string, data []byte) (Result, error) {
	return normalize(source, data, true)
}

func normalize(source string, data []byte, keepRaw bool) (Result, error) {
	res, err := decode(source, data)
	if err != nil || !keepRaw || len(res.Events) == 0 {
		return res, err
	}

	raws, err := rawElements(data, res.Shape)
	if err != nil || len(raws) != len(res.Events) {
		// 위에서 이미 검증된 입력이라 여기 오지 않는다. Raw 없이 진행.
		return res, nil
	}
	for i := range res.Events {
		res.Events[i].Raw = compact(raws[i])
	}
	return res, nil
}

func decode(source string, data []byte) (Result, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return Result{}, fmt.Errorf("normalize %s: %w", source, err)
	}

	switch v := root.(type) {
	case []any:
		return Result{Shape: ShapeArray, Events: wrap(source, v)}, nil

	case map[string]any:
		records, ok := v[RecordsKey]
		if !ok {
			return Result{Shape: ShapeMissingRecords}, nil
		}
		arr, ok := records.([]any)
		if !ok {
			return Result{Shape: ShapeRecordsNotArray}, nil
		}
		return Result{Shape: ShapeRecords, Events: wrap(source, arr)}, nil
	}

	return Result{Shape: ShapeUnexpected}, nil
}

func wrap(source string, values []any) []model.Event {
	if len(values) == 0 {
		return nil
	}
	events := make([]model.Event, len(values))
	for i, v := range values {
		events[i] = model.Event{Source: source, Index: i, Data: v}
	}
	return events
}

// rawElements 는 이벤트 배열 원소를 디코딩하지 않은 채 꺼낸다.
// Records 는 키 이름이 정확히 일치해야 하므로 struct tag 대신 map 으로 읽는다.
func rawElements(data []byte, shape Shape) ([]json.RawMessage, error) {
	var arr []json.RawMessage
	switch shape {
	case ShapeArray:
		err := json.Unmarshal(data, &arr)
		return arr, err
	case ShapeRecords:
		var env map[string]json.RawMessage
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		err := json.Unmarshal(env[RecordsKey], &arr)
		return arr, err
	}
	return nil, fmt.Errorf("no event array in shape %s", shape)
}

// compact 는 pretty-print 된 원소도 리포트 한 줄에 들어가도록 공백을 없앤다.
func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
