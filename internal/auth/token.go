// Package auth reads the identity carried by a sign-in token.
//
// The client never holds the signing key in production, so tokens are
// decoded without verification; the remote authority verifies them on
// every call. Verify is available when a shared secret is configured.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims are the registered claims plus the signed-in contact.
type Claims struct {
	jwt.RegisteredClaims
	ContactID int64  `json:"cid"`
	Name      string `json:"name"`
	Domain    string `json:"domain"`
}

func GenerateToken(contactID int64, name, domain string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		ContactID: contactID,
		Name:      name,
		Domain:    domain,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// Parse decodes tokenString without checking its signature. Expiry is
// checked against now.
func Parse(tokenString string, now time.Time) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	if claims.ContactID == 0 {
		return nil, fmt.Errorf("%w: missing contact id", ErrInvalidToken)
	}
	return claims, nil
}

// Verify decodes tokenString and checks its HMAC signature and expiry.
func Verify(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Self builds the signed-in contact described by c.
func (c *Claims) Self(now time.Time) *models.Self {
	return models.NewSelf(c.ContactID, c.Name, c.Domain, now)
}
