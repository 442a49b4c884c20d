package canonicalize

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CanonicalizeURLEncoded canonicalizes an application/x-www-form-urlencoded
// body per §4.1: percent-decode, sort keys by code-point order (stable for
// duplicate keys, preserving original pairwise order), then re-emit with a
// fixed RFC 3986 unreserved-character percent-encoding, joined by "&".
func CanonicalizeURLEncoded(raw []byte) ([]byte, error) {
	pairs, err := parseFormPairs(string(raw))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].key < pairs[j].key
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = percentEncodeUnreserved(p.key) + "=" + percentEncodeUnreserved(p.value)
	}
	return []byte(strings.Join(parts, "&")), nil
}

type formPair struct {
	key, value string
}

func parseFormPairs(raw string) ([]formPair, error) {
	if raw == "" {
		return nil, nil
	}

	segments := strings.Split(raw, "&")
	pairs := make([]formPair, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		var rawKey, rawVal string
		if idx := strings.IndexByte(seg, '='); idx >= 0 {
			rawKey, rawVal = seg[:idx], seg[idx+1:]
		} else {
			rawKey = seg
		}

		key, err := percentDecode(rawKey)
		if err != nil {
			return nil, fmt.Errorf("canonicalize: invalid urlencoded key %q: %w", rawKey, err)
		}
		val, err := percentDecode(rawVal)
		if err != nil {
			return nil, fmt.Errorf("canonicalize: invalid urlencoded value %q: %w", rawVal, err)
		}
		pairs = append(pairs, formPair{key: key, value: val})
	}
	return pairs, nil
}

// percentDecode decodes a single x-www-form-urlencoded component, treating
// '+' as a literal space per the form-encoding convention.
func percentDecode(s string) (string, error) {
	return url.QueryUnescape(s)
}

// unreserved is the RFC 3986 §2.3 unreserved character set.
const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

var isUnreserved [256]bool

func init() {
	for i := 0; i < len(unreserved); i++ {
		isUnreserved[unreserved[i]] = true
	}
}

// percentEncodeUnreserved re-encodes s using the fixed RFC 3986 unreserved
// character set, uppercase hex digits, operating byte-wise over the UTF-8
// encoding of s.
func percentEncodeUnreserved(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved[c] {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}
