// Package jwtkit issues and verifies the viewer tokens accepted by the HTTP host.
// The subject is the viewer's user ID; email and language ride along as claims.
package jwtkit

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the viewer claims layered on top of RegisteredClaims.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Language string `json:"lang,omitempty"`
	jwt.RegisteredClaims
}

// UserID is the token subject.
func (c Claims) UserID() string { return c.Subject }

// Signer issues viewer tokens.
type Signer interface {
	// Algorithm returns the JWS algorithm (HS256 or RS256).
	Algorithm() string
	Sign(ctx context.Context, claims Claims) (token string, err error)
}

// HMACSigner signs with a shared secret. Suitable for a single host and for tests.
type HMACSigner struct {
	secret []byte
}

func NewHMACSigner(secret []byte) (*HMACSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("hmac secret must be at least 16 bytes")
	}
	return &HMACSigner{secret: secret}, nil
}

func (s *HMACSigner) Algorithm() string { return jwt.SigningMethodHS256.Alg() }

func (s *HMACSigner) Sign(_ context.Context, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// RSASigner signs with a private key. Verifiers select the public key by kid.
type RSASigner struct {
	key *rsa.PrivateKey
	kid string
}

func NewRSASigner(bits int, kid string) (*RSASigner, error) {
	if bits == 0 {
		bits = 2048
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &RSASigner{key: k, kid: kid}, nil
}

// NewRSASignerFromPEM constructs an RSASigner from a PKCS#1 or PKCS#8 private key.
func NewRSASignerFromPEM(kid string, pemBytes []byte) (*RSASigner, error) {
	blk, _ := pem.Decode(pemBytes)
	if blk == nil {
		return nil, errors.New("failed to decode RSA private key pem")
	}
	if blk.Type == "RSA PRIVATE KEY" {
		k, err := x509.ParsePKCS1PrivateKey(blk.Bytes)
		if err != nil {
			return nil, err
		}
		return &RSASigner{key: k, kid: kid}, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(blk.Bytes)
	if err != nil {
		return nil, err
	}
	k, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("pkcs8 key is not RSA private key")
	}
	return &RSASigner{key: k, kid: kid}, nil
}

func (s *RSASigner) Algorithm() string         { return jwt.SigningMethodRS256.Alg() }
func (s *RSASigner) KID() string               { return s.kid }
func (s *RSASigner) PublicKey() *rsa.PublicKey { return &s.key.PublicKey }

func (s *RSASigner) Sign(_ context.Context, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	return token.SignedString(s.key)
}

// Verifier checks viewer tokens.
type Verifier struct {
	secret   []byte
	pubs     map[string]*rsa.PublicKey
	issuer   string
	audience string
	leeway   time.Duration
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithIssuer requires the iss claim.
func WithIssuer(iss string) VerifierOption { return func(v *Verifier) { v.issuer = iss } }

// WithAudience requires aud to contain aud.
func WithAudience(aud string) VerifierOption { return func(v *Verifier) { v.audience = aud } }

// WithLeeway tolerates clock skew on exp/nbf/iat.
func WithLeeway(d time.Duration) VerifierOption { return func(v *Verifier) { v.leeway = d } }

// NewHMACVerifier accepts HS256 tokens signed with secret.
func NewHMACVerifier(secret []byte, opts ...VerifierOption) *Verifier {
	v := &Verifier{secret: secret}
	for _, o := range opts {
		o(v)
	}
	return v
}

// NewRSAVerifier accepts RS256 tokens whose kid is in pubs.
func NewRSAVerifier(pubs map[string]*rsa.PublicKey, opts ...VerifierOption) *Verifier {
	v := &Verifier{pubs: pubs}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify parses token and validates signature, expiry and the configured iss/aud.
// A token without a subject is rejected.
func (v *Verifier) Verify(token string) (Claims, error) {
	var claims Claims
	opts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithLeeway(v.leeway)}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.pubs != nil {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	}
	_, err := jwt.ParseWithClaims(token, &claims, v.key, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

func (v *Verifier) key(t *jwt.Token) (any, error) {
	if v.pubs == nil {
		return v.secret, nil
	}
	kid, _ := t.Header["kid"].(string)
	pub, ok := v.pubs[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return pub, nil
}

// BaseRegisteredClaims returns sub/iat/exp (and aud when given) for a new token.
func BaseRegisteredClaims(subject string, audiences []string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Audience:  audiences,
	}
}
