package telnyx

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"fax/internal/domain"
)

const (
	HeaderSignature = "Telnyx-Signature-Ed25519"
	HeaderTimestamp = "Telnyx-Timestamp"

	DefaultTolerance = 300 * time.Second
)

// DecodePublicKey accepts a 32-byte Ed25519 key as base64 or hex (optional 0x prefix).
func DecodePublicKey(value string) (ed25519.PublicKey, error) {
	candidate := strings.TrimSpace(value)

	if b, err := base64.StdEncoding.DecodeString(candidate); err == nil && len(b) == ed25519.PublicKeySize {
		return ed25519.PublicKey(b), nil
	}

	hexCandidate := strings.TrimPrefix(strings.ToLower(candidate), "0x")
	b, err := hex.DecodeString(hexCandidate)
	if err != nil {
		return nil, errors.New("unsupported public key format")
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.New("invalid public key length")
	}
	return ed25519.PublicKey(b), nil
}

// SignedMessage is the exact byte sequence covered by the webhook signature.
func SignedMessage(timestamp string, rawBody []byte) []byte {
	msg := make([]byte, 0, len(timestamp)+1+len(rawBody))
	msg = append(msg, timestamp...)
	msg = append(msg, '|')
	return append(msg, rawBody...)
}

type Verifier struct {
	PublicKey ed25519.PublicKey
	Tolerance time.Duration
	Now       func() time.Time
}

func NewVerifier(publicKey string, tolerance time.Duration) (*Verifier, error) {
	key, err := DecodePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{PublicKey: key, Tolerance: tolerance, Now: time.Now}, nil
}

// Verify checks a detached Ed25519 signature over timestamp|body. Every
// failure is an *domain.AuthenticationError.
func (v *Verifier) Verify(rawBody []byte, signature, timestamp string) error {
	if signature == "" || timestamp == "" {
		return &domain.AuthenticationError{Reason: "missing signature headers"}
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return &domain.AuthenticationError{Reason: "non-numeric timestamp"}
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	skew := now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(v.Tolerance/time.Second) {
		return &domain.AuthenticationError{Reason: "timestamp outside tolerance"}
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return &domain.AuthenticationError{Reason: "malformed signature"}
	}
	if !ed25519.Verify(v.PublicKey, SignedMessage(timestamp, rawBody), sig) {
		return &domain.AuthenticationError{Reason: "invalid signature"}
	}
	return nil
}

// Sign produces the header values a provider would send. Used by the mock
// provider and tests.
func Sign(priv ed25519.PrivateKey, rawBody []byte, at time.Time) (signature, timestamp string) {
	timestamp = strconv.FormatInt(at.Unix(), 10)
	sig := ed25519.Sign(priv, SignedMessage(timestamp, rawBody))
	return base64.StdEncoding.EncodeToString(sig), timestamp
}
