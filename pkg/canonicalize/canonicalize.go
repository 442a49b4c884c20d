package canonicalize

import (
	"errors"
	"fmt"
	"mime"
)

// ErrUnsupportedContentType is returned by Canonicalize when contentType is
// neither application/json nor application/x-www-form-urlencoded.
var ErrUnsupportedContentType = errors.New("canonicalize: unsupported content type")

// Canonicalize dispatches to the JSON or URL-encoded canonicalizer based on
// contentType per §4.1. Parameters on the media type (e.g. "; charset=utf-8")
// are ignored for dispatch purposes.
func Canonicalize(contentType string, raw []byte) ([]byte, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// A bare type with no parameters (the common case) is valid input to
		// ParseMediaType; only malformed parameter lists fail, so treat the
		// raw string as the media type rather than rejecting outright.
		mediaType = contentType
	}

	switch mediaType {
	case "application/json":
		v, err := ParseJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("canonicalize: %w", err)
		}
		return CanonicalizeJSON(v)
	case "application/x-www-form-urlencoded":
		return CanonicalizeURLEncoded(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
}
