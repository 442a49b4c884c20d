package ash

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// generateNonceHex returns n cryptographically random bytes, hex-encoded.
func generateNonceHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ash: generating nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// buildProofV1 implements the v1 proof construction (§4.3): a SHA-256 hash
// over a newline-delimited transcript of the mode, binding, context id, the
// server nonce when present, and the canonical payload bytes. The digest is
// encoded unpadded base64url, matching the wire examples in §6.
//
//	ASHv1
//	<mode>
//	<binding>
//	<contextId>
//	[<nonce>]
//	<canonicalPayload>
func buildProofV1(mode Mode, binding, contextID, nonce string, canonicalPayload []byte) string {
	var buf bytes.Buffer
	buf.WriteString("ASHv1\n")
	buf.WriteString(string(mode))
	buf.WriteByte('\n')
	buf.WriteString(binding)
	buf.WriteByte('\n')
	buf.WriteString(contextID)
	buf.WriteByte('\n')
	if nonce != "" {
		buf.WriteString(nonce)
		buf.WriteByte('\n')
	}
	buf.Write(canonicalPayload)

	sum := sha256.Sum256(buf.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// deriveClientSecretV21 derives the per-context secret v2.1 hands to the
// client in place of the raw server nonce: an HMAC over "contextId|binding"
// keyed by the nonce bytes (§4.3). Neither the nonce nor this secret alone
// reveals the other's role — the client only ever sees the derived secret.
func deriveClientSecretV21(nonceHex, contextID, binding string) (string, error) {
	nonceBytes, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", fmt.Errorf("ash: decoding nonce: %w", err)
	}
	mac := hmac.New(sha256.New, nonceBytes)
	mac.Write([]byte(contextID))
	mac.Write([]byte("|"))
	mac.Write([]byte(binding))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// buildProofV21 implements the v2.1 proof construction (§4.3): an HMAC,
// keyed by the derived client secret, over "timestamp|binding|bodyHash"
// where bodyHash is the hex SHA-256 of the canonical payload.
func buildProofV21(clientSecretHex string, timestamp int64, binding string, canonicalPayload []byte) (string, error) {
	clientSecret, err := hex.DecodeString(clientSecretHex)
	if err != nil {
		return "", fmt.Errorf("ash: decoding client secret: %w", err)
	}

	bodyHash := sha256.Sum256(canonicalPayload)
	bodyHashHex := hex.EncodeToString(bodyHash[:])

	mac := hmac.New(sha256.New, clientSecret)
	mac.Write([]byte(fmt.Sprintf("%d|%s|%s", timestamp, binding, bodyHashHex)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// constantTimeEqual reports whether a and b are equal without leaking
// timing information proportional to the position of the first mismatch
// (§4.6). Unequal lengths are rejected up front — constant relative to the
// attacker-controlled input, since the stored-side length never varies.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
