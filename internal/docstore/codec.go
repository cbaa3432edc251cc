// Converts documents between their in-memory and on-disk forms.

package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Document is the value of a named document: a JSON object.
//
// Values follow the encoding/json model: map[string]any, []any, string,
// bool and nil. Decoded numbers are json.Number so that integers beyond the
// precision of a float64 are written back with their original digits; any Go
// number may be stored and encodes as usual.
type Document map[string]any

// Decode parses the on-disk content of the document name.
//
// Empty or whitespace-only content decodes to an empty Document. Anything that
// is not exactly one JSON object returns a *MalformedDocumentError.
func Decode(name string, data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &MalformedDocumentError{Name: name, Err: err}
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("trailing data after top-level value")
		}
		return nil, &MalformedDocumentError{Name: name, Err: err}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &MalformedDocumentError{Name: name, Err: fmt.Errorf("top-level value is %s, not an object", jsonKind(v))}
	}
	return Document(m), nil
}

// Encode returns the on-disk form of doc: indented UTF-8 JSON terminated by a
// newline. A nil doc encodes as an empty object.
func Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any(doc)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return buf.Bytes(), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "a boolean"
	case json.Number:
		return "a number"
	case string:
		return "a string"
	case []any:
		return "an array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
