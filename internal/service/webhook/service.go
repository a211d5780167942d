package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"log/slog"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
)

const signaturePrefix = "sha256="

// Service verifies and decodes source-control webhooks.
type Service struct {
	secret string
	logger *slog.Logger
}

// New constructs a webhook service bound to the shared secret.
func New(secret string, logger *slog.Logger) Service {
	return Service{secret: strings.TrimSpace(secret), logger: logger.With("component", "webhook")}
}

// Verify checks the "sha256=<hex>" HMAC signature of the raw payload.
func (s Service) Verify(payload []byte, provided string) error {
	if s.secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", domain.ErrMisconfigured)
	}
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return fmt.Errorf("%w: missing signature", domain.ErrSignatureInvalid)
	}
	if !strings.HasPrefix(provided, signaturePrefix) {
		return fmt.Errorf("%w: unsupported signature scheme", domain.ErrSignatureInvalid)
	}
	expected := Sign([]byte(s.secret), payload)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrSignatureInvalid)
	}
	return nil
}

// Sign returns the header value a sender holding secret would attach to payload.
func Sign(secret, payload []byte) string {
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	return signaturePrefix + hex.EncodeToString(hasher.Sum(nil))
}
