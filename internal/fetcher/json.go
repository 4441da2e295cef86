package fetcher

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// ElementError is an array element that is valid JSON but does not decode
// into the target type.
type ElementError struct {
	Index int
	Err   error
}

func (e ElementError) Error() string {
	return fmt.Sprintf("json: element %d: %v", e.Index, e.Err)
}

// DecodeJSONArray decodes a JSON array element by element. Expects input in
// the form [{...},{...}]; an empty input yields no elements. Elements that
// do not fit T are skipped and reported; only a malformed array is an error.
func DecodeJSONArray[T any](content string) ([]T, []ElementError, error) {
	decoder := json.NewDecoder(strings.NewReader(content))

	tok, err := decoder.Token()
	if err != nil {
		if err == io.EOF {
			return nil, nil, nil
		}
		return nil, nil, eris.Wrap(err, "json: read opening token")
	}

	delim, ok := tok.(json.Delim)
	if !ok || delim != '[' {
		return nil, nil, eris.Errorf("json: expected '[', got %v", tok)
	}

	var raws []json.RawMessage
	for decoder.More() {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			return nil, nil, eris.Wrapf(err, "json: read element %d", len(raws))
		}
		raws = append(raws, raw)
	}

	if _, err := decoder.Token(); err != nil && err != io.EOF {
		return nil, nil, eris.Wrap(err, "json: read closing token")
	}

	out, skipped := DecodeJSONElements[T](raws)
	return out, skipped, nil
}

// DecodeJSONElements decodes each raw element on its own, so one element of
// the wrong shape never costs the others.
func DecodeJSONElements[T any](raws []json.RawMessage) ([]T, []ElementError) {
	out := make([]T, 0, len(raws))
	var skipped []ElementError
	for i, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			skipped = append(skipped, ElementError{Index: i, Err: err})
			continue
		}
		out = append(out, item)
	}
	return out, skipped
}

// DecodeJSONObject decodes a single JSON object from content.
func DecodeJSONObject[T any](content string) (*T, error) {
	var obj T
	if err := json.NewDecoder(strings.NewReader(content)).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}
