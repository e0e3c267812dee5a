package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemline/stemline/internal/auth"
)

func writeKeyFile(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func signToken(t *testing.T, key *rsa.PrivateKey, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": sub,
		"iss": "stemline-identity",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestVerifierExtractsSubject(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(writeKeyFile(t, key), false)
	require.NoError(t, err)

	userID := uuid.New()
	req, _ := http.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, userID.String()))

	got, err := verifier.UserID(req)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestVerifierRejectsWrongKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(writeKeyFile(t, key), false)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, other, uuid.New().String()))

	_, err = verifier.UserID(req)
	assert.Error(t, err)
}

func TestVerifierRejectsNonUUIDSubject(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(writeKeyFile(t, key), false)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "service:catalog"))

	_, err = verifier.UserID(req)
	assert.Error(t, err)
}

func TestVerifierRequiresToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(writeKeyFile(t, key), false)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, "/", nil)
	_, err = verifier.UserID(req)
	assert.Error(t, err)
}

func TestVerifierDevBypass(t *testing.T) {
	verifier, err := auth.NewVerifier("", true)
	require.NoError(t, err)

	userID := uuid.New()
	req, _ := http.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(auth.DevUserHeader, userID.String())

	got, err := verifier.UserID(req)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}
