// internal/report/sink.go
package report

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"logscan/internal/model"

	json "github.com/goccy/go-json"
)

// Sink 는 매칭 리포트의 출력 대상.
// Write 는 여러 worker 에서 동시에 호출될 수 있다.
// Close 는 스캔이 끝난 뒤 한 번 호출되며, 남은 버퍼를 내보낸다.
type Sink interface {
	Write(ctx context.Context, r *model.Report) error
	Close(ctx context.Context) error
}

// StdoutSink
// ------------------------------------------------------------
// 리포트 1개를 JSON 한 줄로 기록한다. (pretty 이면 들여쓰기)
// 매 리포트마다 flush 해서 스캔 중에도 결과가 바로 보인다.
type StdoutSink struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
}

func NewStdoutSink(w io.Writer, pretty bool) *StdoutSink {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return &StdoutSink{w: bw, enc: enc}
}

func (s *StdoutSink) Write(_ context.Context, r *model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(r); err != nil {
		return fmt.Errorf("write report %s#%d: %w", r.File, r.Index, err)
	}
	return s.w.Flush()
}

func (s *StdoutSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// MultiSink 는 모든 sink 에 같은 리포트를 기록한다.
// 하나가 실패해도 나머지에는 계속 기록하고, 에러는 모아서 반환한다.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, r *model.Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
