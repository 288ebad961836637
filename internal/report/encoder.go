package report

import (
	"logscan/internal/model"
	"logscan/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// EncodeBatchJSONLGZ 는 리포트 배치를 JSONL 로 줄 단위 인코딩한 뒤
// gzip 압축해 반환한다.
//
//   - goccy/json encoder 를 gzip writer 에 직결
//   - gzip.Writer + bytes.Buffer 는 pool 에서 재사용
//   - 결과는 새 []byte 로 복사해서 호출자에게 소유권을 넘긴다
//     (pool 버퍼를 그대로 반환하면 재사용 시 데이터가 깨진다)
func EncodeBatchJSONLGZ(reports []*model.Report) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	gz := pool.GzipWriterPool.Get().(*gzip.Writer)
	defer pool.GzipWriterPool.Put(gz)
	gz.Reset(buf)

	enc := json.NewEncoder(gz)
	for _, r := range reports {
		if err := enc.Encode(r); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}

	// Close 에서 gzip footer 까지 기록된다.
	if err := gz.Close(); err != nil {
		return nil, err
	}

	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)
	return data, nil
}
