// internal/loader/loader.go
package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"logscan/internal/config"
	"logscan/internal/model"
	"logscan/internal/pool"
)

var (
	// ErrUnsupportedFormat: 확장자가 json / gz 가 아닌 경로
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrInvalidUTF8: 내용(압축 해제 후)이 UTF-8 이 아님
	ErrInvalidUTF8 = errors.New("content is not valid UTF-8")
	// ErrTooLarge: 압축 해제 후 크기가 MaxFileBytes 초과
	ErrTooLarge = errors.New("content exceeds size limit")
)

// Loader
//
// 파일 1개를 읽어 UTF-8 텍스트(바이트)로 돌려준다.
//   - .json: 그대로 읽는다
//   - .gz  : gzip 스트림을 풀어서 읽는다 (concatenated member 포함)
//
// 반환된 []byte 는 호출자 소유이며, pool 버퍼와 공유하지 않는다.
type Loader struct {
	maxBytes int64
}

func NewLoader(cfg config.Config) *Loader {
	return &Loader{maxBytes: cfg.MaxFileBytes}
}

// Load 는 탐색 단계에서 만든 FileRef 를 읽는다.
func (l *Loader) Load(ref model.FileRef) ([]byte, error) {
	format := ref.Format
	if format == model.FormatUnknown {
		format = model.FormatOf(ref.Path)
	}
	switch format {
	case model.FormatJSON, model.FormatGzip:
	default:
		return nil, fmt.Errorf("load %s: %w", ref.Path, ErrUnsupportedFormat)
	}

	f, err := os.Open(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref.Path, err)
	}
	defer f.Close()

	var src io.Reader = bufio.NewReaderSize(f, 32*1024)
	if format == model.FormatGzip {
		zr, err := pool.GetGzipReader(src)
		if err != nil {
			return nil, fmt.Errorf("load %s: gzip header: %w", ref.Path, err)
		}
		defer pool.PutGzipReader(zr)
		src = zr
	}

	data, err := l.readAll(src)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref.Path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("load %s: %w", ref.Path, ErrInvalidUTF8)
	}
	return data, nil
}

// LoadPath 는 확장자로 형식을 판단해서 읽는다.
func (l *Loader) LoadPath(path string) ([]byte, error) {
	return l.Load(model.FileRef{Path: path, Format: model.FormatOf(path)})
}

// Content 는 path 내용을 문자열로 돌려준다.
// 지원하지 않는 확장자이거나 읽기에 실패하면 빈 문자열.
func (l *Loader) Content(path string) string {
	data, err := l.LoadPath(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// readAll 은 pool 버퍼로 읽은 뒤 호출자 소유 slice 로 복사한다.
// (pool 버퍼를 그대로 반환하면 재사용 시 데이터가 오염된다)
func (l *Loader) readAll(r io.Reader) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if l.maxBytes > 0 {
		r = io.LimitReader(r, l.maxBytes+1)
	}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	if l.maxBytes > 0 && int64(buf.Len()) > l.maxBytes {
		return nil, ErrTooLarge
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
