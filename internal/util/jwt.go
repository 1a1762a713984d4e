package util

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims issued by the auth provider. Subject is the user id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func parsePublicKey(pemKey string) (interface{}, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}

// keyFor picks the verification key for the token's algorithm. keyMaterial is
// the shared secret for HS* and a PEM public key for RS* and ES*.
func keyFor(keyMaterial string) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return []byte(keyMaterial), nil
		case *jwt.SigningMethodRSA:
			pub, err := parsePublicKey(keyMaterial)
			if err != nil {
				return nil, err
			}
			rsaPub, ok := pub.(*rsa.PublicKey)
			if !ok {
				return nil, errors.New("public key is not RSA")
			}
			return rsaPub, nil
		case *jwt.SigningMethodECDSA:
			pub, err := parsePublicKey(keyMaterial)
			if err != nil {
				return nil, err
			}
			ecPub, ok := pub.(*ecdsa.PublicKey)
			if !ok {
				return nil, errors.New("public key is not ECDSA")
			}
			return ecPub, nil
		}
		return nil, fmt.Errorf("unsupported signing algorithm: %v", token.Header["alg"])
	}
}

// ValidateJWT verifies the token and returns its claims. Tokens without a subject are rejected.
func ValidateJWT(tokenString string, keyMaterial string) (*Claims, error) {
	if keyMaterial == "" {
		return nil, errors.New("no verification key configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFor(keyMaterial),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
