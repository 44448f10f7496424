package seal

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/promptseal/internal/ledger/sui"
)

var (
	ErrInvalidSession = errors.New("invalid session certificate")
	ErrSessionExpired = errors.New("session certificate expired")
)

// SessionClaims are carried by a session certificate: a JWT signed by the
// requester's wallet key, scoped to one package.
type SessionClaims struct {
	jwt.RegisteredClaims
	PackageID string `json:"pkg"`
	PublicKey string `json:"pk"`
}

// NewSession issues a certificate for key valid for ttl.
func NewSession(key ed25519.PrivateKey, packageID string, ttl time.Duration) (string, error) {
	pub := key.Public().(ed25519.PublicKey)
	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sui.Address(pub),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PackageID: packageID,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
	})

	return token.SignedString(key)
}

// VerifySession checks the signature, expiry and package scope of a
// certificate and returns the requester address.
func VerifySession(tokenString, packageID string) (string, error) {
	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		c, ok := t.Claims.(*SessionClaims)
		if !ok {
			return nil, ErrInvalidSession
		}
		raw, err := base64.StdEncoding.DecodeString(c.PublicKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, ErrInvalidSession
		}
		return ed25519.PublicKey(raw), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrSessionExpired
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !token.Valid {
		return "", ErrInvalidSession
	}

	raw, _ := base64.StdEncoding.DecodeString(claims.PublicKey)
	if sui.Address(raw) != claims.Subject {
		return "", fmt.Errorf("%w: subject does not match key", ErrInvalidSession)
	}
	if claims.PackageID != packageID {
		return "", fmt.Errorf("%w: issued for package %s", ErrInvalidSession, claims.PackageID)
	}

	return claims.Subject, nil
}
