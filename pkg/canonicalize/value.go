// Package canonicalize turns request payloads into byte-exact canonical
// forms so two independent ASH implementations hash identical input to
// identical proofs. It supports the two wire encodings ASH protects:
// application/json and application/x-www-form-urlencoded.
package canonicalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseJSON decodes raw JSON bytes into the dynamic representation consumed
// by CanonicalizeJSON: nil, bool, json.Number, string, []interface{}, or
// map[string]interface{}. Numbers are decoded as json.Number so the original
// digit sequence survives until canonicalization normalizes it.
//
// The adapter (HTTP handler, test harness, ...) owns parsing; this package
// only consumes the resulting variant.
func ParseJSON(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize: invalid json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canonicalize: trailing data after json value")
	}
	return v, nil
}
