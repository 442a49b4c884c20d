package ash

import (
	"bytes"
	"io"
	"net/http"
)

// headerContext and headerProof are the v1 wire headers a protected
// request must carry (§6).
const (
	headerContext = "X-ASH-Context"
	headerProof   = "X-ASH-Proof"
	// headerTimestamp carries the client-supplied millisecond timestamp a
	// v2.1 proof binds to. Ignored for v1 contexts.
	headerTimestamp = "X-ASH-Timestamp"
)

// ErrorResponder writes an ASH error to an HTTP response. Adapters outside
// this package (e.g. package api's RFC 7807 writer) implement this so the
// engine never imports net/http's error-formatting concerns directly.
type ErrorResponder func(w http.ResponseWriter, status int, code ErrorCode, message string)

// Protect wraps next with the verify pipeline (§9: "framework adapters are
// thin call sites around verify"): it extracts the context id and proof
// from the request headers, reads the body, calls Verify, and either
// rejects the request or forwards it unchanged to next.
//
// The observed binding is derived from r.Method and r.URL.Path, so a context
// verifies only on the exact normalized path it was issued for; two requests
// that differ only in a path parameter have different bindings.
func (a *Ash) Protect(next http.Handler, respond ErrorResponder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contextID := r.Header.Get(headerContext)
		proof := r.Header.Get(headerProof)
		if contextID == "" || proof == "" {
			respond(w, http.StatusUnauthorized, ErrMissingHeaders, "missing X-ASH-Context or X-ASH-Proof header")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			respond(w, http.StatusBadRequest, ErrCanonicalizationFailed, "unable to read request body")
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		var timestamp int64
		if raw := r.Header.Get(headerTimestamp); raw != "" {
			timestamp = parseTimestampHeader(raw)
		}

		result, err := a.Verify(r.Context(), VerifyRequest{
			ContextID:   contextID,
			Proof:       proof,
			Method:      r.Method,
			Path:        r.URL.Path,
			RawPayload:  body,
			ContentType: r.Header.Get("Content-Type"),
			Timestamp:   timestamp,
		})
		if err != nil {
			respond(w, http.StatusUnauthorized, ErrInvalidContext, "verification failed")
			return
		}
		if !result.Valid {
			respond(w, result.Code.httpStatus(), result.Code, string(result.Code))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func parseTimestampHeader(raw string) int64 {
	var ts int64
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c < '0' || c > '9' {
			return 0
		}
		ts = ts*10 + int64(c-'0')
	}
	return ts
}
