// internal/rules/event.go
package rules

import (
	"strings"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Event
//
// 디코딩된 JSON 값 1개를 sigma 엔진의 Keyworder / Selector 로 감싼다.
// 값 자체는 읽기만 하므로 여러 worker 가 동시에 써도 된다.
type Event struct {
	data any
}

// NewEvent 는 디코딩된 JSON 값을 감싼다.
func NewEvent(data any) Event {
	return Event{data: data}
}

// Keywords 는 keyword rule 평가 대상.
// object 이벤트면 최상위 string 값들, string 이벤트면 그 값 자체.
func (e Event) Keywords() ([]string, bool) {
	obj, ok := e.data.(map[string]any)
	if !ok {
		if s, ok := e.data.(string); ok {
			return []string{s}, true
		}
		return nil, false
	}
	out := make([]string, 0, len(obj))
	for _, v := range obj {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, len(out) > 0
}

// Select 는 rule 의 필드 이름으로 값을 찾는다.
// 최상위 key 가 정확히 일치하면 우선하고, 아니면 점 표기
// ("userIdentity.type") 를 JMESPath 식으로 평가한다.
func (e Event) Select(key string) (any, bool) {
	obj, ok := e.data.(map[string]any)
	if !ok {
		return nil, false
	}
	if v, ok := obj[key]; ok {
		return v, v != nil
	}
	if !strings.ContainsAny(key, ".[") {
		return nil, false
	}
	expr, ok := compile(key)
	if !ok {
		return nil, false
	}
	v, err := expr.Search(obj)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// 컴파일된 필드 식 캐시 (worker 간 공유)
var exprCache sync.Map // string → *jmespath.JMESPath (잘못된 식이면 nil)

// compile 은 잘못된 식도 캐시해서 같은 key 를 다시 컴파일하지 않는다.
func compile(key string) (*jmespath.JMESPath, bool) {
	if v, ok := exprCache.Load(key); ok {
		expr, _ := v.(*jmespath.JMESPath)
		return expr, expr != nil
	}
	expr, err := jmespath.Compile(key)
	if err != nil {
		exprCache.Store(key, (*jmespath.JMESPath)(nil))
		return nil, false
	}
	exprCache.Store(key, expr)
	return expr, true
}
