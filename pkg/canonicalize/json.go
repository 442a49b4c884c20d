package canonicalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// CanonicalizeJSON returns the canonical byte form of v per §4.1:
//   - null, true, false as literals
//   - integers as shortest decimal, no leading zeros, no sign for zero
//   - non-integral floats as shortest fixed-point decimal that round-trips,
//     never scientific notation
//   - strings with standard JSON escaping, no unnecessary escapes of
//     non-ASCII, and HTML characters left unescaped
//   - arrays in original order
//   - objects with keys sorted by code-point order
//
// v is usually the output of ParseJSON, but arbitrary Go values (structs,
// maps, slices, numeric primitives) are accepted: they are pre-marshaled
// with the standard library and re-decoded with json.Number preserved so
// struct tags are honored without importing Go-specific ordering.
func CanonicalizeJSON(v interface{}) ([]byte, error) {
	switch v.(type) {
	case nil, bool, json.Number, string, []interface{}, map[string]interface{}:
		// Already in the dynamic representation; encode directly.
	default:
		intermediate, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
		}
		decoded, err := ParseJSON(intermediate)
		if err != nil {
			return nil, err
		}
		v = decoded
	}

	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalJSONString is CanonicalizeJSON returning a string.
func CanonicalJSONString(v interface{}) (string, error) {
	b, err := CanonicalizeJSON(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return encodeNumber(buf, t)
	case float64:
		// Arrives this way only when callers hand us a post-decoded
		// interface{} that bypassed ParseJSON's UseNumber; normalize the
		// same as json.Number.
		return encodeNumber(buf, json.Number(strconv.FormatFloat(t, 'g', -1, 64)))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return encodeNumber(buf, json.Number(fmt.Sprintf("%d", t)))
	case string:
		return encodeString(buf, t)
	case []interface{}:
		return encodeArray(buf, t)
	case map[string]interface{}:
		return encodeObject(buf, t)
	default:
		return fmt.Errorf("canonicalize: unsupported value kind %T", v)
	}
}

func encodeArray(buf *bytes.Buffer, arr []interface{}) error {
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

func encodeObject(buf *bytes.Buffer, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys) // code-point order matches Go's byte-wise string sort for UTF-8

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

func encodeString(buf *bytes.Buffer, s string) error {
	// §4.1: standard JSON string escaping, but HTML characters and non-ASCII
	// bytes are left unescaped (unlike json.Marshal's default).
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("canonicalize: string encode failed: %w", err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

// encodeNumber writes n per §4.1's integer/float rules regardless of how the
// original decimal digits were spelled (e.g. "1.50", "1.5e0", and "1.5" all
// canonicalize identically).
func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()

	if !strings.ContainsAny(s, ".eE") {
		// Spellings such as "NaN", "Inf" or "+Inf" carry no '.', 'e' or 'E'
		// either; anything that is not an optionally signed digit run fails.
		if digits := strings.TrimPrefix(s, "-"); digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
			return fmt.Errorf("canonicalize: invalid or non-finite number %q", s)
		}
		return encodeIntegerLiteral(buf, s)
	}

	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonicalize: invalid number %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonicalize: non-finite number %q", s)
	}

	if f == math.Trunc(f) && math.Abs(f) < 1e18 {
		bi, _ := big.NewFloat(f).Int(nil)
		return encodeIntegerLiteral(buf, bi.String())
	}

	out := strconv.FormatFloat(f, 'f', -1, 64)
	if strings.ContainsAny(out, "eE") {
		// FormatFloat with 'f' never emits scientific notation, but guard
		// against future stdlib changes per §4.1's "no scientific notation".
		return fmt.Errorf("canonicalize: number %q canonicalized to scientific notation", s)
	}
	buf.WriteString(out)
	return nil
}

func encodeIntegerLiteral(buf *bytes.Buffer, s string) error {
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
		neg = false // §4.1: no sign for zero
	}
	if neg {
		buf.WriteByte('-')
	}
	buf.WriteString(digits)
	return nil
}
