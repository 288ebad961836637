// internal/discover/discover.go
package discover

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"logscan/internal/config"
	"logscan/internal/metrics"
	"logscan/internal/model"

	"github.com/rs/zerolog/log"
)

// ErrNotDir 는 root 경로가 디렉토리가 아닐 때 반환된다.
var ErrNotDir = errors.New("not a directory")

// Result 는 탐색 결과.
// Files 는 디렉토리별 이름순(os.ReadDir)으로 깊이 우선 나열된다.
type Result struct {
	Files      []model.FileRef
	Count      int
	TotalBytes int64
}

// Discoverer
//
// root 디렉토리 아래를 재귀적으로 탐색해서 json / gz 파일만 모은다.
//   - 심볼릭 링크 디렉토리는 FollowSymlinks 일 때만 따라가고,
//     같은 디렉토리(device+inode)는 한 번만 방문한다 → cycle 에서도 종료 보장
//   - 하위 디렉토리 읽기 실패는 경고 + DirsSkippedTotal 증가 후 계속 진행
//   - root 자체를 읽지 못하면 에러 반환 (스캔 전체 fatal)
type Discoverer struct {
	maxDepth       int
	followSymlinks bool
	metrics        *metrics.Metrics
}

func NewDiscoverer(cfg config.Config, m *metrics.Metrics) *Discoverer {
	return &Discoverer{
		maxDepth:       cfg.MaxDepth,
		followSymlinks: cfg.FollowSymlinks,
		metrics:        m,
	}
}

// walker 는 Walk 1회 동안의 상태.
type walker struct {
	*Discoverer
	visited map[string]struct{}
	res     Result
}

// Walk 는 root 를 탐색한다. 파일시스템 읽기 외의 부수효과는 없다.
func (d *Discoverer) Walk(root string) (Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Result{}, fmt.Errorf("discover %s: %w", root, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("discover %s: %w", root, ErrNotDir)
	}

	w := &walker{Discoverer: d, visited: make(map[string]struct{})}
	if err := w.walkDir(root, info, 0); err != nil {
		return Result{}, fmt.Errorf("discover %s: %w", root, err)
	}

	atomic.AddInt64(&d.metrics.FilesDiscoveredTotal, int64(w.res.Count))
	atomic.AddInt64(&d.metrics.BytesDiscoveredTotal, w.res.TotalBytes)
	return w.res, nil
}

func (w *walker) walkDir(dir string, info fs.FileInfo, depth int) error {
	key := dirKey(dir, info)
	if _, seen := w.visited[key]; seen {
		atomic.AddInt64(&w.metrics.DirsRevisitedTotal, 1)
		log.Debug().Str("dir", dir).Msg("directory already visited, skipping")
		return nil
	}
	w.visited[key] = struct{}{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		isLink := e.Type()&fs.ModeSymlink != 0

		if isLink && !w.followSymlinks {
			continue
		}
		// 일반 파일은 stat 전에 확장자로 먼저 거른다
		if e.Type().IsRegular() && model.FormatOf(path) == model.FormatUnknown {
			continue
		}

		fi, err := os.Stat(path) // symlink 는 대상 기준
		if err != nil {
			// dangling link, 탐색 중 삭제 등
			log.Warn().Err(err).Str("path", path).Msg("stat failed, skipping entry")
			continue
		}

		switch {
		case fi.IsDir():
			if w.maxDepth > 0 && depth+1 > w.maxDepth {
				continue
			}
			if err := w.walkDir(path, fi, depth+1); err != nil {
				atomic.AddInt64(&w.metrics.DirsSkippedTotal, 1)
				log.Warn().Err(err).Str("dir", path).Msg("directory unreadable, skipping subtree")
			}

		case fi.Mode().IsRegular():
			format := model.FormatOf(path)
			if format == model.FormatUnknown {
				continue
			}
			w.res.Files = append(w.res.Files, model.FileRef{Path: path, Format: format, Size: fi.Size()})
			w.res.Count++
			w.res.TotalBytes += fi.Size()
		}
	}
	return nil
}
