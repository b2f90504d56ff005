package service

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jukebox/auth-backend/internal/config"
	"github.com/jukebox/auth-backend/internal/model"
)

const roleUser = "ROLE_USER"

type credentialClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// CredentialSigner issues and verifies the application's own bearer credential.
//
// Verify and SubjectOf check signature and structure only. Expiry is read separately
// through ExpiresAt so that expiry policy lives with the callers that enforce it.
type CredentialSigner struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	ttl       time.Duration
	now       func() time.Time
}

func NewCredentialSigner(cfg config.AuthConfig) (*CredentialSigner, error) {
	switch strings.ToUpper(strings.TrimSpace(cfg.JWTAlgorithm)) {
	case "", "HS256":
		return NewHMACSigner([]byte(cfg.JWTSecret), cfg.JWTTTL)
	case "RS256":
		return NewRSASigner(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTTTL)
	default:
		return nil, fmt.Errorf("%w: unsupported JWT_ALGORITHM %q", model.ErrMisconfigured, cfg.JWTAlgorithm)
	}
}

// NewHMACSigner builds a signer over a shared secret (HS256).
func NewHMACSigner(secret []byte, ttl time.Duration) (*CredentialSigner, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: JWT_SECRET_KEY is required", model.ErrMisconfigured)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: invalid JWT_TTL", model.ErrMisconfigured)
	}
	return &CredentialSigner{
		method:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

// NewRSASigner builds a signer over an RSA key pair (RS256). Keys are PEM or base64 DER
// (PKCS8/PKCS1 private, PKIX public). An empty public key is derived from the private key.
func NewRSASigner(privateKey, publicKey string, ttl time.Duration) (*CredentialSigner, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: invalid JWT_TTL", model.ErrMisconfigured)
	}
	priv, err := parseRSAPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: JWT_PRIVATE_KEY: %v", model.ErrMisconfigured, err)
	}
	pub := &priv.PublicKey
	if strings.TrimSpace(publicKey) != "" {
		pub, err = parseRSAPublicKey(publicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: JWT_PUBLIC_KEY: %v", model.ErrMisconfigured, err)
		}
	}
	return &CredentialSigner{
		method:    jwt.SigningMethodRS256,
		signKey:   priv,
		verifyKey: pub,
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

func (s *CredentialSigner) TTL() time.Duration {
	return s.ttl
}

// Issue signs a credential for subject valid for the configured TTL.
func (s *CredentialSigner) Issue(subject string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("%w: empty credential subject", model.ErrInvalidInput)
	}
	now := s.now()
	claims := credentialClaims{
		Roles: []string{roleUser},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Verify reports whether the credential is well formed and carries a valid signature.
func (s *CredentialSigner) Verify(credential string) bool {
	_, err := s.parse(credential)
	return err == nil
}

// SubjectOf returns the credential subject, or "" for an empty or unverifiable credential.
func (s *CredentialSigner) SubjectOf(credential string) string {
	claims, err := s.parse(credential)
	if err != nil {
		return ""
	}
	return claims.Subject
}

// ExpiresAt returns the expiry claim of a verified credential.
func (s *CredentialSigner) ExpiresAt(credential string) (time.Time, error) {
	claims, err := s.parse(credential)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp", model.ErrCredentialVerification)
	}
	return claims.ExpiresAt.Time, nil
}

// Expired reports whether a verified credential is past its expiry at the signer's clock.
func (s *CredentialSigner) Expired(credential string) bool {
	expiry, err := s.ExpiresAt(credential)
	if err != nil {
		return true
	}
	return !s.now().Before(expiry)
}

func (s *CredentialSigner) parse(credential string) (*credentialClaims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, model.ErrCredentialVerification
	}
	claims := &credentialClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		return s.verifyKey, nil
	}, jwt.WithValidMethods([]string{s.method.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", model.ErrCredentialVerification, err)
	}
	return claims, nil
}

func parseRSAPrivateKey(raw string) (*rsa.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("key is empty")
	}
	if strings.Contains(raw, "-----BEGIN") {
		return jwt.ParseRSAPrivateKeyFromPEM([]byte(raw))
	}
	der, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an RSA private key")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(der)
}

func parseRSAPublicKey(raw string) (*rsa.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "-----BEGIN") {
		return jwt.ParseRSAPublicKeyFromPEM([]byte(raw))
	}
	der, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaKey, nil
}
