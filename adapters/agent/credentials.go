package agent

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/agentrelay/core"
	"github.com/layer-3/agentrelay/ports"
)

// AudienceAgent is the audience of minted agent tokens
const AudienceAgent = "agent:access"

var (
	_ ports.CredentialSource  = AssertionCredentials{}
	_ ports.CredentialSource  = (*JWTCredentials)(nil)
	_ ports.CredentialRenewer = (*JWTCredentials)(nil)
)

// AssertionCredentials presents the stored identity assertion itself as the
// bearer token, which is what the NEAR AI gateway accepts.
type AssertionCredentials struct{}

func (AssertionCredentials) Credential(session core.Session) (string, error) {
	if session.Raw != "" {
		return session.Raw, nil
	}
	raw, err := json.Marshal(session.Assertion)
	if err != nil {
		return "", fmt.Errorf("failed to encode assertion: %w", err)
	}
	return string(raw), nil
}

// AgentClaims are the claims of a minted agent token
type AgentClaims struct {
	jwt.RegisteredClaims
	PublicKey string `json:"pk,omitempty"`
}

// JWTCredentials mints a short lived ES256 token per session for gateways
// that take ordinary bearer tokens
type JWTCredentials struct {
	signKey *ecdsa.PrivateKey
	ttl     time.Duration
	now     func() time.Time
}

// NewJWTCredentials creates a JWT credential source
func NewJWTCredentials(signKey *ecdsa.PrivateKey, ttl time.Duration) *JWTCredentials {
	return &JWTCredentials{signKey: signKey, ttl: ttl, now: time.Now}
}

// LoadJWTCredentials reads a PEM encoded EC P-256 private key
func LoadJWTCredentials(path string, ttl time.Duration) (*JWTCredentials, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return NewJWTCredentials(key, ttl), nil
}

func (j *JWTCredentials) Credential(session core.Session) (string, error) {
	return j.mint(session.AccountID, session.Assertion.PublicKey)
}

// Renew mints a fresh token for the subject of one this source minted
// earlier, even if that token has expired
func (j *JWTCredentials) Renew(credential string) (string, error) {
	token, err := jwt.ParseWithClaims(credential, &AgentClaims{}, j.keyFunc, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*AgentClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("invalid claims type")
	}
	return j.mint(claims.Subject, claims.PublicKey)
}

func (j *JWTCredentials) mint(accountID, publicKey string) (string, error) {
	now := j.now()
	claims := AgentClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
			Audience:  jwt.ClaimStrings{AudienceAgent},
		},
		PublicKey: publicKey,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign agent token: %w", err)
	}
	return signed, nil
}

// Parse validates a token minted by this source
func (j *JWTCredentials) Parse(tokenStr string) (*AgentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AgentClaims{}, j.keyFunc, jwt.WithAudience(AudienceAgent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*AgentClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid claims type")
	}
	return claims, nil
}

func (j *JWTCredentials) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &j.signKey.PublicKey, nil
}
