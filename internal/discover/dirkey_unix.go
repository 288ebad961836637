//go:build unix

package discover

import (
	"io/fs"
	"path/filepath"
	"strconv"
	"syscall"
)

// dirKey 는 디렉토리의 물리적 identity (device:inode).
// 같은 디렉토리를 가리키는 서로 다른 경로(심볼릭 링크)가 같은 key 를 갖는다.
func dirKey(path string, info fs.FileInfo) string {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return strconv.FormatUint(uint64(st.Dev), 10) + ":" + strconv.FormatUint(uint64(st.Ino), 10)
	}
	return resolvedPath(path)
}

func resolvedPath(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
