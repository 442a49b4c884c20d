// Package ash implements the ASH (Anti-tamper Security Hash) protocol
// engine: canonicalization-bound proof construction/verification and the
// single-use context lifecycle that prevents replay. IssueContext and Verify
// know nothing about HTTP, TLS, or any concrete persistence backend beyond
// the ContextStore contract they depend on. The one HTTP-facing piece is the
// thin net/http adapter Protect (middleware.go), together with the HTTP
// status each ErrorCode maps to.
package ash

import "time"

// Mode controls whether a server-issued nonce additionally binds the proof.
type Mode string

const (
	// ModeBalanced binds the proof to context id + binding + payload only.
	ModeBalanced Mode = "balanced"
	// ModeStrict additionally binds a server-issued nonce into the proof.
	ModeStrict Mode = "strict"
)

// Protocol selects which proof construction a context uses. The two wire
// protocols are negotiated per endpoint, never at runtime (§9 Open Question b).
type Protocol string

const (
	// ProtocolV1 is the SHA-256 hash-only construction (§4.3).
	ProtocolV1 Protocol = "v1"
	// ProtocolV21 is the HMAC/derived-secret construction (§4.3).
	ProtocolV21 Protocol = "v2.1"
)

// idPrefix returns the context id prefix mandated by §3 for the protocol.
func (p Protocol) idPrefix() string {
	if p == ProtocolV21 {
		return "ash_"
	}
	return "ctx_"
}

// StoredContext is the server-owned record backing a single issued context.
// It is never serialized to the wire in full — ContextPublicInfo is the
// client-visible projection.
type StoredContext struct {
	ID        string
	Binding   string
	Mode      Mode
	Protocol  Protocol
	ExpiresAt time.Time
	Used      bool
	// Nonce is hex-encoded random bytes: present iff Mode == ModeStrict (v1)
	// or always for v2.1. Never sent to v2.1 clients directly — only the
	// derived ClientSecret crosses the wire for v2.1 (§4.3).
	Nonce    string
	Metadata map[string]string
}

// ExpiresAtMillis returns ExpiresAt as milliseconds since epoch, the wire
// representation used by ContextPublicInfo.ExpiresAt.
func (c StoredContext) ExpiresAtMillis() int64 {
	return c.ExpiresAt.UnixMilli()
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// store's lock — mutating the returned value never affects stored state.
func (c StoredContext) Clone() StoredContext {
	clone := c
	if c.Metadata != nil {
		clone.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// ContextPublicInfo is the DTO returned to the client on issuance (§6).
type ContextPublicInfo struct {
	ContextID string `json:"contextId"`
	Binding   string `json:"binding"`
	Mode      Mode   `json:"mode"`
	ExpiresAt int64  `json:"expiresAt"`
	// Nonce is populated only for v1 strict-mode contexts.
	Nonce string `json:"nonce,omitempty"`
	// ClientSecret is populated only for v2.1 contexts — the derived secret
	// in place of the raw server nonce (§4.3).
	ClientSecret string `json:"clientSecret,omitempty"`
}

// IssueContextOptions configures issue_context (§4.5).
type IssueContextOptions struct {
	// Binding is "METHOD /path"; it is run through NormalizeBinding before
	// storage, so callers may pass an un-normalized form.
	Binding string
	// Method and Path, if set, are normalized together and take precedence
	// over Binding. Convenience for adapters that already split them.
	Method string
	Path   string

	TTL      time.Duration
	Mode     Mode     // defaults to ModeBalanced
	Protocol Protocol // defaults to ProtocolV1
	Metadata map[string]string

	// ActorID identifies the caller requesting the context, for engines
	// configured with a RateLimiter. Empty means "unthrottled caller" when
	// no limiter is configured, and "anonymous" bucket when one is.
	ActorID string
}

func (o IssueContextOptions) normalizedBinding() string {
	if o.Method != "" || o.Path != "" {
		return NormalizeBinding(o.Method, o.Path)
	}
	return NormalizeBinding(splitBinding(o.Binding))
}

// splitBinding splits an already-combined "METHOD /path" string back into
// its parts so it can be re-normalized uniformly with the Method/Path path.
func splitBinding(binding string) (method, path string) {
	for i := 0; i < len(binding); i++ {
		if binding[i] == ' ' {
			return binding[:i], binding[i+1:]
		}
	}
	return binding, ""
}

// VerifyRequest is the observed data verify (§4.5) checks against a stored
// context.
type VerifyRequest struct {
	ContextID       string
	Proof           string
	ObservedBinding string // combined "METHOD /path" or separately via Method/Path
	Method          string
	Path            string
	RawPayload      []byte
	ContentType     string
	// Timestamp is the client-supplied millisecond timestamp a v2.1 proof
	// binds to (§4.3). Ignored for v1 contexts.
	Timestamp int64
}

func (r VerifyRequest) observedBinding() string {
	if r.Method != "" || r.Path != "" {
		return NormalizeBinding(r.Method, r.Path)
	}
	return NormalizeBinding(splitBinding(r.ObservedBinding))
}

// VerifyResult is the outcome of verify (§4.5).
type VerifyResult struct {
	Valid    bool
	Code     ErrorCode
	Metadata map[string]string
}
