package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/aradsms/messaging_gateway/internal/callback_service/domain"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
)

// ComputeSignature returns the header value the provider sends for body.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// SignatureVerifier authenticates callbacks with the shared app secret.
type SignatureVerifier struct {
	secret string
	logger *slog.Logger
}

func NewSignatureVerifier(secret string, logger *slog.Logger) *SignatureVerifier {
	v := &SignatureVerifier{secret: secret, logger: logger.With("component", "signature_verifier")}
	if secret == "" {
		v.logger.Warn("No webhook app secret configured; callback signatures will not be checked")
	}
	return v
}

// Verify checks header against the HMAC of the exact bytes received. With no
// secret configured every request is accepted.
func (v *SignatureVerifier) Verify(rawBody []byte, header string) error {
	if v.secret == "" {
		v.logger.Warn("Accepting unsigned callback, no app secret configured")
		return nil
	}
	if rawBody == nil {
		return domain.ErrRawBodyUnavailable
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return domain.ErrMissingSignature
	}
	expected := ComputeSignature(v.secret, rawBody)
	if !hmac.Equal([]byte(header), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Handshake answers the provider's subscription check: mode must be
// "subscribe" and token must equal the configured verify token.
func Handshake(verifyToken, mode, token, challenge string) (string, error) {
	if verifyToken == "" || mode != "subscribe" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
		return "", domain.ErrVerifyTokenMismatch
	}
	return challenge, nil
}
