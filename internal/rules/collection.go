// internal/rules/collection.go
package rules

import (
	"context"
	"errors"
	"fmt"
	"os"

	"logscan/internal/model"

	"github.com/markuskont/go-sigma-rule-engine"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoRules: rule 디렉토리에서 평가 가능한 rule 을 하나도 만들지 못함
	ErrNoRules = errors.New("no usable rules loaded")
	// ErrMatchPanic: sigma 평가 중 panic (이벤트 1개만 실패 처리)
	ErrMatchPanic = errors.New("rule evaluation panicked")
)

// Stats 는 rule 로딩 결과 집계.
type Stats struct {
	Total       int
	Ok          int
	Failed      int
	Unsupported int
}

// Collection
//
// 로딩이 끝난 Sigma rule 묶음.
// Load 로 스캔 시작 전에 한 번만 만들고, 이후에는 읽기 전용으로
// 모든 worker 가 공유한다. (Ruleset 자체가 평가 시 RLock 을 쓴다)
type Collection struct {
	ruleset *sigma.Ruleset
	stats   Stats

	// rule id → description. 평가 결과(sigma.Result)에는 description 이 없다.
	descriptions map[string]string
}

// Load 는 dirs 아래의 Sigma YAML rule 을 읽어 Collection 을 만든다.
// 개별 rule 파싱 실패는 Stats.Failed 로만 집계하고,
// 평가 가능한 rule 이 0개이면 ErrNoRules 를 반환한다.
func Load(dirs ...string) (*Collection, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("load rules: %w", ErrNoRules)
	}
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("load rules %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("load rules %s: not a directory", dir)
		}
	}

	rs, err := sigma.NewRuleset(sigma.Config{
		Directory:       dirs,
		NoCollapseWS:    false,
		FailOnRuleParse: false,
		FailOnYamlParse: false,
	})
	if err != nil {
		return nil, fmt.Errorf("load rules %v: %w", dirs, err)
	}

	c := &Collection{
		ruleset: rs,
		stats: Stats{
			Total:       rs.Total,
			Ok:          rs.Ok,
			Failed:      rs.Failed,
			Unsupported: rs.Unsupported,
		},
		descriptions: make(map[string]string, len(rs.Rules)),
	}
	for _, tree := range rs.Rules {
		if tree == nil || tree.Rule == nil || tree.Rule.Description == "" {
			continue
		}
		c.descriptions[tree.Rule.ID] = tree.Rule.Description
	}
	if c.stats.Ok == 0 {
		return nil, fmt.Errorf("load rules %v: %w", dirs, ErrNoRules)
	}

	log.Info().
		Strs("dirs", dirs).
		Int("total", c.stats.Total).
		Int("ok", c.stats.Ok).
		Int("failed", c.stats.Failed).
		Int("unsupported", c.stats.Unsupported).
		Msg("rules loaded")
	return c, nil
}

// Stats 는 로딩 시점의 집계를 반환한다.
func (c *Collection) Stats() Stats {
	return c.stats
}

// Match 는 이벤트 1개를 모든 rule 에 대해 평가한다.
// 매칭이 없으면 (nil, nil).
func (c *Collection) Match(ctx context.Context, ev model.Event) (matches []model.Match, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = fmt.Errorf("%w: %v", ErrMatchPanic, r)
		}
	}()

	results, ok := c.ruleset.EvalAll(NewEvent(ev.Data))
	if !ok || len(results) == 0 {
		return nil, nil
	}

	matches = make([]model.Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, model.Match{
			ID:          r.ID,
			Title:       r.Title,
			Description: c.descriptions[r.ID],
			Tags:        []string(r.Tags),
		})
	}
	return matches, nil
}
