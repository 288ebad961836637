//go:build !unix

package discover

import (
	"io/fs"
	"path/filepath"
)

// dirKey 는 inode 를 쓸 수 없는 플랫폼에서 링크를 풀어낸 절대 경로를 쓴다.
func dirKey(path string, _ fs.FileInfo) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
