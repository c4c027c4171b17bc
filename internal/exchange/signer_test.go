package exchange

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ecKeyPEM(t *testing.T) (string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), key
}

func edKeyPEM(t *testing.T) (string, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), pub
}

func TestSignerRequestTokenES256(t *testing.T) {
	secret, key := ecKeyPEM(t)
	signer, err := NewSigner("organizations/org/apiKeys/key", secret)
	require.NoError(t, err)

	raw, err := signer.RequestToken("GET", "api.coinbase.com", "/api/v3/brokerage/accounts")
	require.NoError(t, err)

	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "organizations/org/apiKeys/key", claims["sub"])
	assert.Equal(t, "cdp", claims["iss"])
	assert.Equal(t, "GET api.coinbase.com/api/v3/brokerage/accounts", claims["uri"])
	assert.Equal(t, "organizations/org/apiKeys/key", token.Header["kid"])
	assert.NotEmpty(t, token.Header["nonce"])
	assert.NotContains(t, token.Header["nonce"], "-")

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(tokenLifetime), exp.Time, 5*time.Second)
}

func TestSignerStreamTokenEdDSA(t *testing.T) {
	secret, pub := edKeyPEM(t)
	signer, err := NewSigner("key", secret)
	require.NoError(t, err)

	raw, err := signer.StreamToken()
	require.NoError(t, err)

	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	require.NoError(t, err)
	_, hasURI := token.Claims.(jwt.MapClaims)["uri"]
	assert.False(t, hasURI)
}

func TestSignerAcceptsEscapedNewlines(t *testing.T) {
	secret, _ := ecKeyPEM(t)
	_, err := NewSigner("key", strings.ReplaceAll(secret, "\n", `\n`))
	assert.NoError(t, err)
}

func TestSignerRejectsBadCredentials(t *testing.T) {
	_, err := NewSigner("", "secret")
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = NewSigner("key", "not a pem key")
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}
