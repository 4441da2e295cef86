package fetcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestDecodeJSONArray(t *testing.T) {
	input := `[{"id":1,"name":"alpha"},{"id":2,"name":"beta"},{"id":3,"name":"gamma"}]`

	records, skipped, err := DecodeJSONArray[testRecord](input)
	require.NoError(t, err)
	assert.Empty(t, skipped)

	require.Len(t, records, 3)
	assert.Equal(t, 1, records[0].ID)
	assert.Equal(t, "alpha", records[0].Name)
	assert.Equal(t, 3, records[2].ID)
	assert.Equal(t, "gamma", records[2].Name)
}

func TestDecodeJSONArray_Empty(t *testing.T) {
	records, _, err := DecodeJSONArray[testRecord](`[]`)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, _, err = DecodeJSONArray[testRecord](``)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecodeJSONArray_NotArray(t *testing.T) {
	_, _, err := DecodeJSONArray[testRecord](`{"id":1}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")
}

func TestDecodeJSONArray_BadElementSkipped(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantIDs []int
		badIdx  int
	}{
		{"first", `[{"id":"x"},{"id":2,"name":"b"},{"id":3,"name":"c"}]`, []int{2, 3}, 0},
		{"middle", `[{"id":1,"name":"a"},{"id":{"n":2}},{"id":3,"name":"c"}]`, []int{1, 3}, 1},
		{"last", `[{"id":1,"name":"a"},{"id":2,"name":"b"},{"name":["c"]}]`, []int{1, 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, skipped, err := DecodeJSONArray[testRecord](tt.input)
			require.NoError(t, err)

			var ids []int
			for _, r := range records {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			require.Len(t, skipped, 1)
			assert.Equal(t, tt.badIdx, skipped[0].Index)
			assert.Contains(t, skipped[0].Error(), "json: element")
		})
	}
}

func TestDecodeJSONArray_MalformedArray(t *testing.T) {
	_, _, err := DecodeJSONArray[testRecord](`[{"id":1},{"id":`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json: read element 1")
}

func TestDecodeJSONElements(t *testing.T) {
	raws := []json.RawMessage{[]byte(`{"id":1}`), []byte(`"text"`), []byte(`{"id":3}`)}
	records, skipped := DecodeJSONElements[testRecord](raws)
	require.Len(t, records, 2)
	assert.Equal(t, 3, records[1].ID)
	require.Len(t, skipped, 1)
	assert.Equal(t, 1, skipped[0].Index)
}

func TestDecodeJSONObject(t *testing.T) {
	obj, err := DecodeJSONObject[testRecord](`{"id":42,"name":"test"}`)
	require.NoError(t, err)
	assert.Equal(t, 42, obj.ID)
	assert.Equal(t, "test", obj.Name)
}

func TestDecodeJSONObject_Invalid(t *testing.T) {
	_, err := DecodeJSONObject[testRecord](`not json`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json: decode object")
}
