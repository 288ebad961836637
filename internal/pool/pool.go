package pool

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// 스캐너는 파일마다 내용 전체를 메모리에 읽고(gz 는 압축 해제),
// 리포트 배치를 gzip 으로 다시 압축한다.
// 파일 수가 많을 때 매번 버퍼/gzip 객체를 새로 만들지 않도록 재사용한다.
// ---------------------------------------------------------------

var (
	// BufferPool:
	//   - 파일 내용(압축 해제 결과 포함)을 읽어 들이는 버퍼
	//   - 리포트 배치의 gzip 결과 버퍼로도 사용
	//   - 초기 용량 64KB
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 64*1024))
		},
	}

	// GzipReaderPool:
	//   - gzip.Reader 재사용 (내부 decompressor 할당 비용 절감)
	//   - 사용 전 반드시 Reset(src) 호출
	GzipReaderPool = sync.Pool{
		New: func() any { return new(gzip.Reader) },
	}

	// GzipWriterPool:
	//   - 리포트 배치 압축용 gzip.Writer
	//   - BestSpeed: 스캔 처리량 우선
	GzipWriterPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// Pool에 되돌려줄 최대 버퍼 용량.
// 큰 로그 파일을 읽은 버퍼는 풀에 넣지 않고 GC 에 맡긴다.
const MaxBufferCap = 4 * 1024 * 1024 // 4MB

// GetBuffer 는 비어 있는 버퍼를 꺼낸다.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - MaxBufferCap 이하이면 풀에 재사용
//   - 초과하면 버려서 메모리를 계속 붙잡지 않는다
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}

// GetGzipReader 는 src 로 Reset 된 gzip.Reader 를 꺼낸다.
// header 가 잘못되면 reader 를 풀에 되돌리고 에러를 반환한다.
func GetGzipReader(src io.Reader) (*gzip.Reader, error) {
	zr := GzipReaderPool.Get().(*gzip.Reader)
	if err := zr.Reset(src); err != nil {
		GzipReaderPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

// PutGzipReader 는 reader 를 닫고 풀에 반환한다.
func PutGzipReader(zr *gzip.Reader) {
	_ = zr.Close()
	GzipReaderPool.Put(zr)
}
