// Package tokens issues access tokens. HS256 with a shared secret is the
// development default; RS256 key sets publish their public halves as JWKS
// so the gateway can verify without sharing a secret.
package tokens

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/purposefullive/coaching-platform/libs/auth"
)

var (
	ErrRotationUnsupported = errors.New("key rotation not supported")
	ErrUnknownKid          = errors.New("unknown kid")
)

type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type Signer interface {
	Sign(claims auth.Claims) (string, error)
	Verify(token string) (*auth.Claims, error)
	// Keys lists the public keys to publish. HS256 signers publish none.
	Keys() []JWK
	SetActiveKid(kid string) error
}

type hs256Signer struct {
	secret string
}

func NewHS256Signer(secret string) Signer {
	return hs256Signer{secret: secret}
}

func (s hs256Signer) Sign(claims auth.Claims) (string, error) {
	return auth.SignHS256(claims, s.secret)
}

func (s hs256Signer) Verify(token string) (*auth.Claims, error) {
	return auth.ParseAndVerifyHS256(token, s.secret)
}

func (s hs256Signer) Keys() []JWK { return nil }

func (s hs256Signer) SetActiveKid(string) error { return ErrRotationUnsupported }

type rsaKey struct {
	kid     string
	private *rsa.PrivateKey
}

func (k rsaKey) sign(claims auth.Claims) (string, error) {
	header, err := json.Marshal(auth.Header{Alg: "RS256", Typ: "JWT", Kid: k.kid})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	hash := sha256.Sum256([]byte(unsigned))
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.private, crypto.SHA256, hash[:])
	if err != nil {
		return "", err
	}
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func (k rsaKey) jwk() JWK {
	pub := k.private.PublicKey
	return JWK{
		Kty: "RSA",
		Kid: k.kid,
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// RSASigner signs with the active key of a key set and verifies against
// any key in it, so tokens issued before a rotation stay valid.
type RSASigner struct {
	mu     sync.RWMutex
	active string
	keys   map[string]rsaKey
}

// NewRSASigner parses one or more PEM private keys. Key ids are derived
// from the modulus. An empty activeKid selects the lowest kid.
func NewRSASigner(pemBlobs, activeKid string) (*RSASigner, error) {
	s := &RSASigner{keys: map[string]rsaKey{}}
	rest := []byte(pemBlobs)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := parsePrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		kid := KeyID(&key.PublicKey)
		s.keys[kid] = rsaKey{kid: kid, private: key}
	}
	if len(s.keys) == 0 {
		return nil, errors.New("no rsa private keys found")
	}
	if activeKid == "" {
		kids := s.kids()
		activeKid = kids[0]
	}
	if err := s.SetActiveKid(activeKid); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RSASigner) kids() []string {
	out := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

func (s *RSASigner) Sign(claims auth.Claims) (string, error) {
	s.mu.RLock()
	key := s.keys[s.active]
	s.mu.RUnlock()
	return key.sign(claims)
}

func (s *RSASigner) Verify(token string) (*auth.Claims, error) {
	header, err := auth.ParseHeader(token)
	if err != nil {
		return nil, err
	}
	key, ok := s.keys[header.Kid]
	if header.Alg != "RS256" || !ok {
		return nil, auth.ErrInvalidToken
	}
	return auth.VerifyRS256(token, &key.private.PublicKey)
}

func (s *RSASigner) Keys() []JWK {
	out := make([]JWK, 0, len(s.keys))
	for _, kid := range s.kids() {
		out = append(out, s.keys[kid].jwk())
	}
	return out
}

func (s *RSASigner) ActiveKid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *RSASigner) SetActiveKid(kid string) error {
	if _, ok := s.keys[kid]; !ok {
		return ErrUnknownKid
	}
	s.mu.Lock()
	s.active = kid
	s.mu.Unlock()
	return nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errors.New("unsupported private key")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return rsaKey, nil
}

func KeyID(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}
