// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package codec provides the deterministic wire encoding every signature
// and fingerprint in the mesh is computed over: canonical JSON with keys
// sorted at every object level, and unpadded URL-safe base64.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Canonical renders v as its canonical JSON byte image: object keys sorted
// lexicographically at every nesting level, no insignificant whitespace,
// non-ASCII left as-is. Two object graphs that are structurally equal
// produce identical bytes regardless of field insertion order.
func Canonical(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encodeValue(&buf, normalized); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalize round-trips v through encoding/json so that struct values,
// maps, and arbitrary interfaces all land on the same representation
// (map[string]any, []any, float64/string/bool/nil) before encoding.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	return out, nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return encodeNumber(buf, val)
	case string:
		return encodeString(buf, val)
	case []any:
		return encodeArray(buf, val)
	case map[string]any:
		return encodeObject(buf, val)
	default:
		return fmt.Errorf("canonical: unsupported type %T", v)
	}
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	f, err := n.Float64()
	if err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("canonical: non-finite number %s", n.String())
		}
	}
	buf.WriteString(n.String())
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	encoded, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("canonical: string: %w", err)
	}
	buf.Write(encoded)
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}
