package auth

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DevUserHeader carries a raw user id when the local-dev bypass is enabled.
const DevUserHeader = "X-Local-Dev-User"

// Verifier resolves the acting user identity on incoming requests. Tokens are
// issued and managed by the identity service; this only verifies the
// signature against its published public keys and extracts the subject.
type Verifier struct {
	keys          []any // *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey
	devAllowLocal bool
}

// NewVerifier loads PEM-encoded public keys from keysFile. keysFile may be
// empty when devAllowLocal is set, in which case only the dev header works.
func NewVerifier(keysFile string, devAllowLocal bool) (*Verifier, error) {
	v := &Verifier{devAllowLocal: devAllowLocal}
	if keysFile != "" {
		if err := v.loadKeys(keysFile); err != nil {
			return nil, fmt.Errorf("load identity keys: %w", err)
		}
	}
	return v, nil
}

func (v *Verifier) loadKeys(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var keys []any
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			cert, certErr := x509.ParseCertificate(block.Bytes)
			if certErr != nil {
				continue // skip unknown blocks
			}
			key = cert.PublicKey
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return fmt.Errorf("no valid keys found in %s", path)
	}
	v.keys = keys
	return nil
}

// UserID extracts and verifies the acting user from the request: the dev
// bypass header when enabled, otherwise the bearer token's subject claim.
func (v *Verifier) UserID(r *http.Request) (uuid.UUID, error) {
	if v.devAllowLocal {
		if raw := r.Header.Get(DevUserHeader); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return uuid.Nil, fmt.Errorf("invalid dev user id: %w", err)
			}
			return id, nil
		}
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return uuid.Nil, errors.New("authentication required")
	}
	return v.verifyToken(strings.TrimPrefix(authHeader, "Bearer "))
}

func (v *Verifier) verifyToken(tokenStr string) (uuid.UUID, error) {
	if len(v.keys) == 0 {
		return uuid.Nil, errors.New("no identity keys configured")
	}

	// No KID indexing from PEM files, so try each key in turn.
	var (
		token *jwt.Token
		err   error
	)
	for _, key := range v.keys {
		token, err = jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return key, nil
		})
		if err == nil && token.Valid {
			break
		}
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("token parse error: %w", err)
	}
	if !token.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, errors.New("invalid claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, errors.New("missing subject claim")
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject is not a user id: %w", err)
	}
	return id, nil
}
