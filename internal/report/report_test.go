package report

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"logscan/internal/config"
	"logscan/internal/metrics"
	"logscan/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 는 PutObject 호출을 기록한다. failFirst 번까지는 실패한다.
type fakeS3 struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	objects   map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("s3 unavailable")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		InstanceID: "scanner_1",
		Report: config.S3ReportConfig{
			Bucket:            "reports",
			Prefix:            "logscan",
			Timeout:           time.Second,
			AppRetries:        2,
			BatchSize:         2,
			SpoolDir:          filepath.Join(t.TempDir(), "spool"),
			SpoolMaxSizeBytes: 1 << 20,
		},
	}
}

func newTestUploader(cfg config.Config, m *metrics.Metrics, client PutObjectAPI) *S3Uploader {
	u := NewS3UploaderWithClient(cfg.Report, m, client)
	u.backoff = time.Millisecond
	return u
}

func decodeBatch(t *testing.T, data []byte) []model.Report {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer zr.Close()

	var out []model.Report
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var r model.Report
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func report(file string, idx int) *model.Report {
	return &model.Report{File: file, Index: idx, Matches: []model.Match{{ID: "r1", Title: "rule one"}}}
}

func TestEncodeBatchJSONLGZ(t *testing.T) {
	data, err := EncodeBatchJSONLGZ([]*model.Report{report("a.json", 0), report("b.gz", 3)})
	require.NoError(t, err)

	got := decodeBatch(t, data)
	require.Len(t, got, 2)
	assert.Equal(t, "a.json", got[0].File)
	assert.Equal(t, 3, got[1].Index)
	assert.Equal(t, "r1", got[1].Matches[0].ID)
}

func TestStdoutSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdoutSink(&buf, false)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, report("logs/a.json", 1)))
	require.NoError(t, s.Close(ctx))

	assert.Equal(t,
		`{"file":"logs/a.json","index":1,"matches":[{"id":"r1","title":"rule one"}]}`+"\n",
		buf.String())
}

func TestStdoutSinkPretty(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdoutSink(&buf, true)
	require.NoError(t, s.Write(context.Background(), report("a.json", 0)))
	assert.Contains(t, buf.String(), "\n  \"file\": \"a.json\"")
}

type recordSink struct {
	mu      sync.Mutex
	reports []*model.Report
	err     error
	closed  bool
}

func (r *recordSink) Write(_ context.Context, rep *model.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reports = append(r.reports, rep)
	return nil
}

func (r *recordSink) Close(context.Context) error {
	r.closed = true
	return nil
}

func TestMultiSinkWritesAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recordSink{}, &recordSink{err: boom}
	ms := MultiSink{a, b}

	err := ms.Write(context.Background(), report("a.json", 0))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.reports, 1)

	require.NoError(t, ms.Close(context.Background()))
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestBuildS3Key(t *testing.T) {
	at := time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "logscan/dt=2025-03-09/hr=23/x.jsonl.gz", BuildS3Key("logscan/", at, "x.jsonl.gz"))
	assert.Equal(t, "dt=2025-03-09/hr=23/x.jsonl.gz", BuildS3Key("", at, "x.jsonl.gz"))
}

func TestNewFilename(t *testing.T) {
	name := NewFilename("host_a/b")
	assert.True(t, strings.HasSuffix(name, ".jsonl.gz"))
	assert.Contains(t, name, "_host-a-b_")

	sec, ok := extractUnixFromFilename(name)
	require.True(t, ok)
	assert.InDelta(t, time.Now().Unix(), sec, 5)

	_, ok = extractUnixFromFilename("nounderscore.jsonl.gz")
	assert.False(t, ok)
}

func TestUploaderRetriesThenSucceeds(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	client := &fakeS3{failFirst: 1}
	up := newTestUploader(cfg, m, client)

	require.NoError(t, up.UploadBytesWithRetryCtx(context.Background(), "k", []byte("body")))
	assert.Equal(t, 2, client.calls)
	assert.Equal(t, []byte("body"), client.objects["k"])
	assert.EqualValues(t, 1, m.S3PutErrorsTotal)
}

func TestUploaderGivesUp(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	client := &fakeS3{failFirst: 10}
	up := newTestUploader(cfg, m, client)

	err := up.UploadBytesWithRetryCtx(context.Background(), "k", []byte("body"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, client.calls)
	assert.EqualValues(t, 2, m.S3PutErrorsTotal)
}

func TestUploaderCanceled(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeS3{}
	up := newTestUploader(cfg, metrics.New(), client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := up.UploadBytesWithRetryCtx(ctx, "k", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, client.calls)
}

func TestS3SinkUploadsFullBatchesAndFlushesOnClose(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	client := &fakeS3{}
	sink, err := NewS3Sink(cfg, m, newTestUploader(cfg, m, client))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Write(ctx, report("a.json", i)))
	}
	assert.Len(t, client.keys(), 1)

	require.NoError(t, sink.Close(ctx))
	keys := client.keys()
	require.Len(t, keys, 2)
	assert.EqualValues(t, 2, m.ReportBatchesUploadedTotal)

	var total int
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "logscan/dt="), k)
		assert.Contains(t, k, "_scanner-1_")
		total += len(decodeBatch(t, client.objects[k]))
	}
	assert.Equal(t, 3, total)
}

func TestS3SinkSpoolsOnFailureAndReplaysOnClose(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	// batch upload: 2 attempts fail → spool. Close 에서 재업로드 성공
	client := &fakeS3{failFirst: 2}
	sink, err := NewS3Sink(cfg, m, newTestUploader(cfg, m, client))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, report("a.json", 0)))
	require.NoError(t, sink.Write(ctx, report("a.json", 1)))

	assert.EqualValues(t, 2, m.SpoolReportsSavedTotal)
	assert.Equal(t, 1, sink.spool.Len())
	assert.Positive(t, m.SpoolSizeBytes)

	require.NoError(t, sink.Close(ctx))
	assert.Zero(t, sink.spool.Len())
	assert.Zero(t, m.SpoolSizeBytes)
	require.Len(t, client.keys(), 1)
	assert.Len(t, decodeBatch(t, client.objects[client.keys()[0]]), 2)
}

func TestS3SinkLeavesSpoolWhenS3StaysDown(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	client := &fakeS3{failFirst: 1000}
	sink, err := NewS3Sink(cfg, m, newTestUploader(cfg, m, client))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, report("a.json", 0)))
	require.NoError(t, sink.Close(ctx))

	assert.Equal(t, 1, sink.spool.Len())
	assert.EqualValues(t, 1, m.SpoolReportsSavedTotal)
}

func TestSpoolCapacityRemovesOldest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.SpoolMaxSizeBytes = 10
	m := metrics.New()
	sp, err := NewSpool(cfg.Report, m)
	require.NoError(t, err)

	require.NoError(t, sp.Save("100_a_000001.jsonl.gz", []byte("123456"), 1))
	require.NoError(t, sp.Save("200_a_000002.jsonl.gz", []byte("123456"), 1))

	assert.Equal(t, 1, sp.Len())
	assert.Equal(t, "200_a_000002.jsonl.gz", sp.pickOldest())
	assert.EqualValues(t, 1, m.SpoolFilesExpiredTotal)
	assert.EqualValues(t, 6, m.SpoolSizeBytes)

	// 상한보다 큰 배치는 바로 버린다
	require.NoError(t, sp.Save("300_a_000003.jsonl.gz", make([]byte, 11), 4))
	assert.EqualValues(t, 4, m.SpoolReportsDroppedTotal)
	assert.Equal(t, 1, sp.Len())
}

func TestSpoolRestoresSizeAndRemovesOrphanMeta(t *testing.T) {
	cfg := testConfig(t)
	dir := cfg.Report.SpoolDir
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "100_a_000001.jsonl.gz"), []byte("12345"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "200_a_000002.jsonl.gz"+metaSuffix), []byte(`{}`), 0o600))

	m := metrics.New()
	sp, err := NewSpool(cfg.Report, m)
	require.NoError(t, err)

	assert.Equal(t, 1, sp.Len())
	assert.EqualValues(t, 5, m.SpoolSizeBytes)
	_, err = os.Stat(filepath.Join(dir, "200_a_000002.jsonl.gz"+metaSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestSpoolSaveLogsMetaWriteFailure(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	cfg := testConfig(t)
	m := metrics.New()
	sp, err := NewSpool(cfg.Report, m)
	require.NoError(t, err)

	// meta 경로를 디렉토리로 막아 쓰기 실패를 만든다
	name := filenameAt(time.Now().Unix(), 1)
	require.NoError(t, os.Mkdir(filepath.Join(cfg.Report.SpoolDir, name+metaSuffix), 0o755))

	require.NoError(t, sp.Save(name, []byte("batch"), 3))
	assert.Equal(t, 1, sp.Len())
	assert.EqualValues(t, 3, m.SpoolReportsSavedTotal)
	assert.EqualValues(t, 1, sp.readMeta(name))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "spool meta write failed", line["message"])
	assert.Equal(t, name, line["file"])
	assert.EqualValues(t, 3, line["reports"])
}

func TestSpoolMetaRecordsReportCount(t *testing.T) {
	cfg := testConfig(t)
	sp, err := NewSpool(cfg.Report, metrics.New())
	require.NoError(t, err)

	name := filenameAt(time.Now().Unix(), 1)
	require.NoError(t, sp.Save(name, []byte("batch"), 5))
	assert.EqualValues(t, 5, sp.readMeta(name))
}

func TestSpoolReplayDropsExpiredAndCorruptFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.SpoolMaxAge = time.Hour
	m := metrics.New()
	sp, err := NewSpool(cfg.Report, m)
	require.NoError(t, err)
	client := &fakeS3{}
	up := newTestUploader(cfg, m, client)

	old := time.Now().Add(-2 * time.Hour).Unix()
	fresh := time.Now().Unix()
	require.NoError(t, sp.Save(filenameAt(old, 1), []byte("stale"), 1))
	require.NoError(t, sp.Save(filenameAt(fresh, 2), []byte("not gzip"), 1))

	ctx := context.Background()
	assert.True(t, sp.ReplayOne(ctx, up, "p"))
	assert.True(t, sp.ReplayOne(ctx, up, "p"))
	assert.False(t, sp.ReplayOne(ctx, up, "p"))

	assert.Zero(t, sp.Len())
	assert.EqualValues(t, 2, m.SpoolFilesExpiredTotal)
	assert.Zero(t, client.calls)
}

func TestSpoolReplayUsesFilenamePartition(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	sp, err := NewSpool(cfg.Report, m)
	require.NoError(t, err)
	client := &fakeS3{}

	data, err := EncodeBatchJSONLGZ([]*model.Report{report("a.json", 0)})
	require.NoError(t, err)
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC).Unix()
	name := filenameAt(ts, 7)
	require.NoError(t, sp.Save(name, data, 1))

	assert.True(t, sp.ReplayOne(context.Background(), newTestUploader(cfg, m, client), "p"))
	assert.Equal(t, []string{"p/dt=2025-01-02/hr=03/" + name}, client.keys())
}

func filenameAt(sec int64, counter int) string {
	return fmt.Sprintf("%d_a_%06d.jsonl.gz", sec, counter)
}
