package normalize

import (
	"strconv"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datas(r Result) []any {
	out := make([]any, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Data
	}
	return out
}

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantShape Shape
		wantData  []any
	}{
		{
			name:      "array of objects keeps order",
			in:        `[{"a":1},{"a":2}]`,
			wantShape: ShapeArray,
			wantData:  []any{map[string]any{"a": 1.0}, map[string]any{"a": 2.0}},
		},
		{
			name:      "records envelope",
			in:        `{"Records":[{"a":1}]}`,
			wantShape: ShapeRecords,
			wantData:  []any{map[string]any{"a": 1.0}},
		},
		{
			name:      "records envelope ignores sibling keys",
			in:        `{"meta":{"v":2},"Records":[{"a":1},{"b":"x"}]}`,
			wantShape: ShapeRecords,
			wantData:  []any{map[string]any{"a": 1.0}, map[string]any{"b": "x"}},
		},
		{
			name:      "object without records",
			in:        `{"NotRecords":[{"a":1}]}`,
			wantShape: ShapeMissingRecords,
		},
		{
			name:      "records key is case sensitive",
			in:        `{"records":[{"a":1}]}`,
			wantShape: ShapeMissingRecords,
		},
		{
			name:      "records not an array",
			in:        `{"Records":{"a":1}}`,
			wantShape: ShapeRecordsNotArray,
		},
		{
			name:      "string scalar",
			in:        `"not an object or array"`,
			wantShape: ShapeUnexpected,
		},
		{"number scalar", `42`, ShapeUnexpected, nil},
		{"null", `null`, ShapeUnexpected, nil},
		{"bool", `true`, ShapeUnexpected, nil},
		{"empty array", `[]`, ShapeArray, nil},
		{
			name:      "non-object elements are still events",
			in:        `[1,"two",null,[3]]`,
			wantShape: ShapeArray,
			wantData:  []any{1.0, "two", nil, []any{3.0}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Normalize("f.json", []byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.wantShape, res.Shape)
			assert.Len(t, res.Events, len(tt.wantData))
			if len(tt.wantData) > 0 {
				assert.Equal(t, tt.wantData, datas(res))
			}
		})
	}
}

func TestNormalizeEventProvenance(t *testing.T) {
	res, err := Normalize("logs/a.json", []byte(`[{"a":1},{"a":2},{"a":3}]`))
	require.NoError(t, err)
	for i, ev := range res.Events {
		assert.Equal(t, "logs/a.json", ev.Source)
		assert.Equal(t, i, ev.Index)
	}
}

func TestNormalizeParseErrors(t *testing.T) {
	for _, in := range []string{``, `[{"a":1}`, `{"Records":[}`, `not json`} {
		t.Run(in, func(t *testing.T) {
			res, err := Normalize("bad.json", []byte(in))
			assert.Error(t, err)
			assert.Empty(t, res.Events)
			assert.Contains(t, err.Error(), "bad.json")
		})
	}
}

func TestNormalizeKeepRaw(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantRaw []string
	}{
		{
			name:    "large integers keep every digit",
			in:      `[{"id":1234567890123456789},{"id":2}]`,
			wantRaw: []string{`{"id":1234567890123456789}`, `{"id":2}`},
		},
		{
			name: "pretty printed elements are compacted",
			in: `{"Records": [
				{ "a": 1,
				  "b": [1, 2] }
			]}`,
			wantRaw: []string{`{"a":1,"b":[1,2]}`},
		},
		{
			name:    "records key is exact",
			in:      `{"records":[{"a":0}],"Records":[{"a":1}]}`,
			wantRaw: []string{`{"a":1}`},
		},
		{
			name:    "non-object elements",
			in:      `[1.50,"two",null]`,
			wantRaw: []string{`1.50`, `"two"`, `null`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NormalizeKeepRaw("f.json", []byte(tt.in))
			require.NoError(t, err)
			require.Len(t, res.Events, len(tt.wantRaw))
			for i, ev := range res.Events {
				assert.Equal(t, tt.wantRaw[i], string(ev.Raw))
				assert.Equal(t, i, ev.Index)
			}
		})
	}
}

func TestNormalizeKeepRawMatchesData(t *testing.T) {
	res, err := NormalizeKeepRaw("f.json", []byte(`[{"id":1234567890123456789}]`))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)

	obj, ok := res.Events[0].Object()
	require.True(t, ok)
	// 매칭용 Data 는 float64 그대로
	assert.Equal(t, float64(1234567890123456789), obj["id"])
	assert.Equal(t, json.RawMessage(`{"id":1234567890123456789}`), res.Events[0].Payload())
}

func TestNormalizeWithoutRaw(t *testing.T) {
	res, err := Normalize("f.json", []byte(`[{"a":1}]`))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Nil(t, res.Events[0].Raw)
	assert.Equal(t, map[string]any{"a": 1.0}, res.Events[0].Payload())

	res, err = NormalizeKeepRaw("f.json", []byte(`{"NotRecords":[{"a":1}]}`))
	require.NoError(t, err)
	assert.Equal(t, ShapeMissingRecords, res.Shape)
	assert.Empty(t, res.Events)

	_, err = NormalizeKeepRaw("bad.json", []byte(`[{"a":1}`))
	assert.Error(t, err)
}

func TestShapeString(t *testing.T) {
	assert.Equal(t, "array", ShapeArray.String())
	assert.Equal(t, "missing_records", ShapeMissingRecords.String())
	assert.Equal(t, "shape(99)", Shape(99).String())
}

func TestProperty_ExtractionPreservesOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	build := func(ids []int, wrapped bool) []byte {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = `{"id":` + strconv.Itoa(id) + `}`
		}
		arr := "[" + strings.Join(parts, ",") + "]"
		if wrapped {
			return []byte(`{"Records":` + arr + `}`)
		}
		return []byte(arr)
	}

	properties.Property("events come out in source order for both envelopes", prop.ForAll(
		func(ids []int, wrapped bool) bool {
			res, err := Normalize("p.json", build(ids, wrapped))
			if err != nil || len(res.Events) != len(ids) {
				return false
			}
			for i, ev := range res.Events {
				obj, ok := ev.Object()
				if !ok || obj["id"] != float64(ids[i]) || ev.Index != i {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-1000, 1000)),
		gen.Bool(),
	))

	properties.Property("re-encoded events equal the source elements", prop.ForAll(
		func(ids []int) bool {
			src := build(ids, false)
			res, err := Normalize("p.json", src)
			if err != nil {
				return false
			}
			var want []any
			if err := json.Unmarshal(src, &want); err != nil {
				return false
			}
			if len(want) == 0 {
				return len(res.Events) == 0
			}
			got, _ := json.Marshal(datas(res))
			exp, _ := json.Marshal(want)
			return string(got) == string(exp)
		},
		gen.SliceOf(gen.IntRange(0, 50)),
	))

	properties.TestingRun(t)
}
