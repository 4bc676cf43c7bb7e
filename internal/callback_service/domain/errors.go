package domain

import "errors"

var (
	ErrRawBodyUnavailable  = errors.New("raw request body unavailable")
	ErrMissingSignature    = errors.New("missing signature header")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrVerifyTokenMismatch = errors.New("verify token mismatch")
)

// IsAuthError reports whether err means the callback could not be authenticated.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrRawBodyUnavailable) ||
		errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrInvalidSignature)
}
