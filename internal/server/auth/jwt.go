// Package auth issues and checks the bearer tokens operators use on the
// management API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "gophmove"

// Claims are the registered claims plus the operator role. The operator
// identity travels in the subject.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// GenerateToken signs an HS256 operator token valid for validity.
func GenerateToken(operator string, secretKey []byte, validity time.Duration) (string, error) {
	if operator == "" {
		return "", fmt.Errorf("%w: empty operator", common.ErrValidation)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Role: models.RoleAdmin,
	})

	return token.SignedString(secretKey)
}

// GetOperatorFromToken validates tokenString and returns the operator
// identity. Expired tokens yield common.ErrTokenExpired; anything else that
// fails validation yields common.ErrorUnauthorized.
func GetOperatorFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secretKey, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}

	if !token.Valid || claims.Subject == "" || claims.Role != models.RoleAdmin {
		return "", common.ErrorUnauthorized
	}

	return claims.Subject, nil
}
