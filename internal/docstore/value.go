// Typed access to values nested in a Document.

package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Get decodes doc[key] into a T. It reports false when key is absent or null.
func Get[T any](doc Document, key string) (T, bool, error) {
	var out T
	v, ok := doc[key]
	if !ok || v == nil {
		return out, false, nil
	}
	if err := convert(v, &out); err != nil {
		return out, false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return out, true, nil
}

// Set stores v under key, converted to the JSON value model so the document
// only ever holds maps, slices, scalars and json.Number.
func Set(doc Document, key string, v any) error {
	var out any
	if err := convert(v, &out); err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	doc[key] = out
	return nil
}

// Object returns doc[key] as a mapping, creating it if missing or not an
// object.
func Object(doc Document, key string) map[string]any {
	if m, ok := doc[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	doc[key] = m
	return m
}

func convert(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}
