package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DownloadGrant is the verified content of a signed download token: which
// report job it belongs to, the stored file it unlocks and when it lapses.
type DownloadGrant struct {
	JobID     string
	File      string
	ExpiresAt time.Time
}

// TokenSigner mints and verifies download tokens for generated report files.
// The token itself is the credential; download routes need no session.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenSigner builds a signer. A non-positive TTL defaults to 24 hours.
func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl}
}

// Sign produces an opaque token granting access to the job's file until the
// signer's TTL elapses. The token is payload.signature, both base64url.
func (s *TokenSigner) Sign(jobID, file string) (string, time.Time, error) {
	if jobID == "" || file == "" {
		return "", time.Time{}, fmt.Errorf("sign download token: job ID and file required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("sign download token: secret not configured")
	}
	expiresAt := time.Now().Add(s.ttl)
	payload := encodePayload(jobID, file, expiresAt)
	return payload + "." + s.signature(payload), expiresAt, nil
}

// Verify checks the token's signature and expiry and returns the grant.
func (s *TokenSigner) Verify(token string) (*DownloadGrant, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, fmt.Errorf("verify download token: malformed token")
	}
	if !hmac.Equal([]byte(s.signature(payload)), []byte(sig)) {
		return nil, fmt.Errorf("verify download token: bad signature")
	}
	grant, err := decodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("verify download token: %w", err)
	}
	if time.Now().After(grant.ExpiresAt) {
		return nil, fmt.Errorf("verify download token: token expired")
	}
	return grant, nil
}

func (s *TokenSigner) signature(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func encodePayload(jobID, file string, expiresAt time.Time) string {
	raw := strings.Join([]string{jobID, strconv.FormatInt(expiresAt.Unix(), 10), file}, "\n")
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodePayload(payload string) (*DownloadGrant, error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	parts := strings.SplitN(string(raw), "\n", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("unexpected payload shape")
	}
	expUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad expiry: %w", err)
	}
	return &DownloadGrant{
		JobID:     parts[0],
		File:      parts[2],
		ExpiresAt: time.Unix(expUnix, 0),
	}, nil
}
