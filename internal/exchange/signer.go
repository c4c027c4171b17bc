package exchange

import (
	"crypto"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingCredentials = errors.New("exchange API key and secret are required")
	ErrUnsupportedKey     = errors.New("exchange API secret is not an EC or Ed25519 PEM private key")
)

// tokenLifetime is the maximum the exchange accepts for a request token
const tokenLifetime = 2 * time.Minute

// Signer mints the short-lived JWTs that authenticate every exchange call.
// A token is bound to one request URI; websocket tokens carry no URI.
type Signer struct {
	keyName string
	key     crypto.Signer
	method  jwt.SigningMethod
	now     func() time.Time
}

// NewSigner parses the API secret, which the exchange issues as a PEM
// encoded EC (ES256) or Ed25519 (EdDSA) private key
func NewSigner(keyName, secret string) (*Signer, error) {
	if keyName == "" || secret == "" {
		return nil, ErrMissingCredentials
	}

	// Secrets copied from env files often carry literal \n sequences
	pem := []byte(strings.ReplaceAll(secret, `\n`, "\n"))

	if ecKey, err := jwt.ParseECPrivateKeyFromPEM(pem); err == nil {
		return &Signer{keyName: keyName, key: ecKey, method: jwt.SigningMethodES256, now: time.Now}, nil
	}
	if edKey, err := jwt.ParseEdPrivateKeyFromPEM(pem); err == nil {
		signer, ok := edKey.(crypto.Signer)
		if !ok {
			return nil, ErrUnsupportedKey
		}
		return &Signer{keyName: keyName, key: signer, method: jwt.SigningMethodEdDSA, now: time.Now}, nil
	}
	return nil, ErrUnsupportedKey
}

// RequestToken signs a token for a single REST call, e.g. ("GET", "api.coinbase.com", "/api/v3/brokerage/accounts")
func (s *Signer) RequestToken(method, host, path string) (string, error) {
	return s.sign(method + " " + host + path)
}

// StreamToken signs a token for a websocket subscribe frame
func (s *Signer) StreamToken() (string, error) {
	return s.sign("")
}

func (s *Signer) sign(uri string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": s.keyName,
		"iss": "cdp",
		"nbf": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	if uri != "" {
		claims["uri"] = uri
	}

	token := jwt.NewWithClaims(s.method, claims)
	token.Header["kid"] = s.keyName
	token.Header["nonce"] = strings.ReplaceAll(uuid.NewString(), "-", "")

	return token.SignedString(s.key)
}
