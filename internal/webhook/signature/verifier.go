package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	webhookdomain "github.com/subledger-io/subledger/internal/webhook/domain"
)

// Verifier checks inbound webhook authenticity: HMAC-SHA256 over the raw
// body with the shared secret, hex-encoded, compared in constant time.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify accepts either the bare hex digest or the provider's
// "t=<ts>,v1=<hex>" composite header shape.
func (v *Verifier) Verify(rawBody []byte, header string) error {
	if len(v.secret) == 0 {
		return webhookdomain.ErrInvalidSignature
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return webhookdomain.ErrInvalidSignature
	}

	provided := extractDigest(header)
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return webhookdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if !hmac.Equal(decoded, expected) {
		return webhookdomain.ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex digest for a body. Used by tests and the replay
// tooling.
func (v *Verifier) Sign(rawBody []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

func extractDigest(header string) string {
	if !strings.Contains(header, "=") || !strings.Contains(header, ",") {
		return header
	}
	for _, part := range strings.Split(header, ",") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(part), "v1="); ok {
			return rest
		}
	}
	return header
}
