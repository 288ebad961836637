// internal/worker/manager.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"logscan/internal/config"
	"logscan/internal/loader"
	"logscan/internal/metrics"
	"logscan/internal/model"
	"logscan/internal/normalize"
	"logscan/internal/report"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNotReady: Init 성공 전에 Run 호출
	ErrNotReady = errors.New("scanner is not initialized")
	// ErrAlreadyStarted: Run 은 Manager 당 한 번만 가능
	ErrAlreadyStarted = errors.New("scan already started")
)

// Matcher 는 이벤트 1개를 rule 집합에 대해 평가한다.
// 여러 worker goroutine 에서 동시에 호출된다.
// 매칭이 없으면 빈 slice (또는 nil) 를 반환한다.
type Matcher interface {
	Match(ctx context.Context, ev model.Event) ([]model.Match, error)
}

// State 는 Manager 의 생명주기 단계.
type State int32

const (
	StateUninitialized State = iota
	StateReady               // rule 로딩 완료, 아직 파일 처리 전
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Manager 는 스캔 파이프라인의 핵심이다.
// 탐색된 파일 목록을 받아
//   - 파일 로딩 (gzip / plain) + JSON envelope 정규화
//   - 이벤트 단위 rule 매칭
//   - 매칭된 이벤트를 Sink 로 즉시 리포트
//
// 하는 전체 흐름을 제어한다.
//
// 주요 구성:
//   - produceLoop: 파일을 탐색 순서대로 읽어 eventCh 에 넣는다 (1개)
//   - eventCh: QueueSize 크기의 bounded channel (backpressure)
//   - matchLoop: eventCh 의 이벤트를 matcher 에 넘긴다 (Workers 개)
//
// Workers=1 이면 리포트 순서가 파일/이벤트 순서와 같다.
// 파일/이벤트 단위 실패는 로그 + metrics 에만 남기고 계속 진행한다.
type Manager struct {
	cfg     config.Config
	metrics *metrics.Metrics
	loader  *loader.Loader
	sink    report.Sink
	matcher Matcher

	state atomic.Int32
	wg    sync.WaitGroup
}

// NewManager 는 Loader 를 만들고 Uninitialized 상태의 Manager 를 반환한다.
func NewManager(cfg config.Config, m *metrics.Metrics, sink report.Sink) *Manager {
	return &Manager{
		cfg:     cfg,
		metrics: m,
		loader:  loader.NewLoader(cfg),
		sink:    sink,
	}
}

// State 는 현재 단계.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Init 은 matcher(rule 집합)를 한 번만 만든다.
// 실패하면 Uninitialized 로 남고, 이후 Run 은 ErrNotReady 를 반환한다.
func (m *Manager) Init(build func() (Matcher, error)) error {
	if m.State() != StateUninitialized {
		return ErrAlreadyStarted
	}
	matcher, err := build()
	if err != nil {
		return fmt.Errorf("init matcher: %w", err)
	}
	if matcher == nil {
		return fmt.Errorf("init matcher: %w", ErrNotReady)
	}
	m.matcher = matcher
	m.state.Store(int32(StateReady))
	return nil
}

// Run 은 files 를 처리하고 모든 worker 가 끝날 때까지 기다린다.
// ctx 가 취소되면 producer 가 멈추고 worker 가 정리된 뒤 ctx.Err() 를 반환한다.
// (그때까지 처리한 카운트는 metrics 에 남는다)
func (m *Manager) Run(ctx context.Context, files []model.FileRef) error {
	if !m.state.CompareAndSwap(int32(StateReady), int32(StateRunning)) {
		if m.State() == StateUninitialized {
			return ErrNotReady
		}
		return ErrAlreadyStarted
	}
	defer m.state.Store(int32(StateDone))

	eventCh := make(chan model.Event, m.cfg.QueueSize)

	m.wg.Add(1)
	go m.produceLoop(ctx, files, eventCh)

	workers := m.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.matchLoop(ctx, eventCh)
	}

	m.wg.Wait()
	return ctx.Err()
}

// produceLoop 는 파일을 순서대로 읽어 eventCh 로 보낸다.
// 채널이 가득 차면 worker 가 따라올 때까지 블록된다.
func (m *Manager) produceLoop(ctx context.Context, files []model.FileRef, out chan<- model.Event) {
	defer m.wg.Done()
	defer close(out)

	for _, ref := range files {
		if ctx.Err() != nil {
			return
		}
		for _, ev := range m.processFile(ref) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// processFile 은 파일 1개를 이벤트 목록으로 바꾼다.
// 로딩/파싱 실패는 경고 로그 후 nil.
func (m *Manager) processFile(ref model.FileRef) []model.Event {
	data, err := m.loader.Load(ref)
	if err != nil {
		atomic.AddInt64(&m.metrics.FilesSkippedLoadTotal, 1)
		log.Warn().Err(err).Str("file", ref.Path).Msg("skip file: load failed")
		return nil
	}

	normalizeFn := normalize.Normalize
	if m.cfg.ReportIncludeEvent {
		normalizeFn = normalize.NormalizeKeepRaw
	}
	res, err := normalizeFn(ref.Path, data)
	if err != nil {
		atomic.AddInt64(&m.metrics.FilesSkippedParseTotal, 1)
		log.Warn().Err(err).Str("file", ref.Path).Msg("skip file: invalid JSON")
		return nil
	}
	atomic.AddInt64(&m.metrics.FilesProcessedTotal, 1)

	switch res.Shape {
	case normalize.ShapeUnexpected:
		atomic.AddInt64(&m.metrics.FilesUnexpectedShapeTotal, 1)
		log.Warn().Str("file", ref.Path).Msg("unexpected JSON shape, expected array or object")
	case normalize.ShapeMissingRecords, normalize.ShapeRecordsNotArray:
		atomic.AddInt64(&m.metrics.EnvelopesMissingRecordsTotal, 1)
		log.Warn().Str("file", ref.Path).Stringer("shape", res.Shape).Msg("object without Records array")
	}

	atomic.AddInt64(&m.metrics.EventsExtractedTotal, int64(len(res.Events)))
	log.Debug().Str("file", ref.Path).Int("events", len(res.Events)).Msg("file normalized")
	return res.Events
}

// matchLoop 는 eventCh 가 닫히거나 ctx 가 취소될 때까지 이벤트를 매칭한다.
func (m *Manager) matchLoop(ctx context.Context, in <-chan model.Event) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		}
	}
}

// handleEvent 는 이벤트 1개를 매칭하고 결과가 있으면 리포트한다.
func (m *Manager) handleEvent(ctx context.Context, ev model.Event) {
	matches, err := m.match(ctx, ev)
	if err != nil {
		if ctx.Err() != nil {
			// 종료 중 → 실패로 세지 않는다
			return
		}
		atomic.AddInt64(&m.metrics.MatchErrorsTotal, 1)
		log.Warn().Err(err).Str("file", ev.Source).Int("index", ev.Index).Msg("skip event: match failed")
		return
	}
	if len(matches) == 0 {
		return
	}

	atomic.AddInt64(&m.metrics.EventsMatchedTotal, 1)
	atomic.AddInt64(&m.metrics.RuleHitsTotal, int64(len(matches)))

	r := &model.Report{File: ev.Source, Index: ev.Index, Matches: matches}
	if m.cfg.ReportIncludeEvent {
		r.Event = ev.Payload()
	}
	if err := m.sink.Write(ctx, r); err != nil {
		atomic.AddInt64(&m.metrics.ReportErrorsTotal, 1)
		log.Error().Err(err).Str("file", ev.Source).Int("index", ev.Index).Msg("report write failed")
		return
	}
	atomic.AddInt64(&m.metrics.ReportsWrittenTotal, 1)
}

// match 는 MatchTimeout 이 설정되어 있으면 그 시간 안에 끝나지 않은 매칭을 포기한다.
// matcher goroutine 은 ctx 취소를 보고 스스로 끝나야 한다.
func (m *Manager) match(ctx context.Context, ev model.Event) ([]model.Match, error) {
	if m.cfg.MatchTimeout <= 0 {
		return m.matcher.Match(ctx, ev)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.MatchTimeout)
	defer cancel()

	type result struct {
		matches []model.Match
		err     error
	}
	done := make(chan result, 1)
	go func() {
		matches, err := m.matcher.Match(ctx, ev)
		done <- result{matches, err}
	}()

	select {
	case r := <-done:
		return r.matches, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("match %s#%d after %s: %w", ev.Source, ev.Index, m.cfg.MatchTimeout, ctx.Err())
	}
}
