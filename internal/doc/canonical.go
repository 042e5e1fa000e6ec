package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// encoding selects how strings are written.
type encoding int

const (
	// encJSON matches encoding/json string escaping.
	encJSON encoding = iota
	// encExact writes strings byte for byte: no HTML escaping, literal
	// U+2028/U+2029, no normalization.
	encExact
	// encCanonical is encExact with NFC normalized strings.
	encCanonical
)

// Marshal produces JSON for v with object keys sorted by UTF-16 code units.
// Strings are written exactly as held, so two values marshal to the same
// bytes only when they are structurally equal. Stored records and the
// autosave dedup snapshot use this form.
func Marshal(v Value) ([]byte, error) {
	return marshalValue(v, encExact)
}

// MarshalCanonical produces canonical JSON for v, for rendering that must not
// depend on how text was entered (scenario traces, golden files).
//
// Differences from encoding/json:
//  1. Object keys sorted by UTF-16 code units
//  2. No HTML escaping (< > & are written literally)
//  3. Strings are NFC normalized
//  4. NaN and infinities are rejected
func MarshalCanonical(v Value) ([]byte, error) {
	return marshalValue(v, encCanonical)
}

// Equal reports whether a and b have identical exact serializations.
func Equal(a, b Value) bool {
	ab, err := Marshal(a)
	if err != nil {
		return false
	}
	bb, err := Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func marshalValue(v Value, enc encoding) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return marshalString(string(val), enc)
	case Int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case Float:
		return marshalFloat(float64(val))
	case Bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalValue(elem, enc)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Object:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalString(k, enc)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalValue(val[k], enc)
			if err != nil {
				return nil, fmt.Errorf("value for key %q: %w", k, err)
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("doc: unknown value type %T", v)
	}
}

// marshalFloat writes integral floats without a fraction so that Int(3) and
// Float(3) serialize identically.
func marshalFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("doc: %v is not representable in JSON", f)
	}
	abs := math.Abs(f)
	if f == 0 || (abs >= 1e-6 && abs < 1e21) {
		return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
	}
	return strconv.AppendFloat(nil, f, 'e', -1, 64), nil
}

func marshalString(s string, enc encoding) ([]byte, error) {
	if enc == encCanonical {
		s = norm.NFC.String(s)
	}

	var buf bytes.Buffer
	je := json.NewEncoder(&buf)
	je.SetEscapeHTML(enc == encJSON)
	if err := je.Encode(s); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if enc != encJSON {
		out = unescapeLineSeparators(out)
	}
	return out, nil
}

// unescapeLineSeparators undoes encoding/json's escaping of U+2028 and U+2029.
// A sequence preceded by an odd run of backslashes is an escaped backslash
// followed by the text "u2028" and must stay as is.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			slashes := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				slashes++
			}
			if slashes%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}
