package runner

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// defaultTokenTTL bounds how long a minted identity token stays valid.
// Ten minutes comfortably covers a publish job without leaving a
// long-lived credential in the environment.
const defaultTokenTTL = 10 * time.Minute

// Claims is the identity payload carried by a minted token. A package
// index (or anything else the token is presented to) can verify the
// signature and inspect which run, job, and ref produced it — this is
// the trusted-publishing model: identity instead of stored credentials.
type Claims struct {
	Issuer      string `json:"iss"`
	RunID       string `json:"runId"`
	Workflow    string `json:"workflow"`
	Job         string `json:"job"`
	Environment string `json:"environment,omitempty"`
	EventName   string `json:"eventName"`
	Ref         string `json:"ref"`
	IssuedAt    int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
}

// tokenIssuer identifies gantry-minted tokens.
const tokenIssuer = "gantry"

// NewSigningKey generates the per-run HMAC key tokens are signed with.
// The key never leaves the runner process; steps only ever see tokens.
func NewSigningKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate token signing key: %w", err)
	}
	return key, nil
}

// MintIDToken issues a compact signed token for the given claims,
// filling in issuer and the issue/expiry timestamps.
//
// The format is the familiar three-part compact serialization:
// base64url(header).base64url(claims).base64url(HMAC-SHA256), signed
// with the run's key.
func MintIDToken(key []byte, claims Claims, now time.Time) (string, error) {
	claims.Issuer = tokenIssuer
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(defaultTokenTTL).Unix()

	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to encode token header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode token claims: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(claimsJSON)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signingInput))
	signature := enc.EncodeToString(mac.Sum(nil))

	return signingInput + "." + signature, nil
}

// VerifyIDToken checks a token's signature and expiry and returns its
// claims. Used by tests and by anything local that wants to trust a
// gantry-issued token.
func VerifyIDToken(key []byte, token string, now time.Time) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("malformed token: expected 3 segments, got %d", len(parts))
	}

	enc := base64.RawURLEncoding
	signingInput := parts[0] + "." + parts[1]

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signingInput))
	expected := mac.Sum(nil)

	got, err := enc.DecodeString(parts[2])
	if err != nil {
		return Claims{}, fmt.Errorf("malformed token signature: %w", err)
	}
	if !hmac.Equal(expected, got) {
		return Claims{}, fmt.Errorf("token signature mismatch")
	}

	claimsJSON, err := enc.DecodeString(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("malformed token claims: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return Claims{}, fmt.Errorf("failed to decode token claims: %w", err)
	}

	if claims.Issuer != tokenIssuer {
		return Claims{}, fmt.Errorf("unexpected token issuer %q", claims.Issuer)
	}
	if now.Unix() >= claims.ExpiresAt {
		return Claims{}, fmt.Errorf("token expired at %d", claims.ExpiresAt)
	}

	return claims, nil
}
