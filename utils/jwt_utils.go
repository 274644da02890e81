package utils

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoUserClaim = errors.New("token carries no user id")

// userClaims are checked in order; the backend has issued all of them over time.
var userClaims = []string{"id", "_id", "userId", "user_id", "sub"}

// ParseToken extracts the user id from a backend-issued JWT. With an empty
// secret the signature is not checked: the token is only relayed back to the
// backend, which verifies it itself.
func ParseToken(tokenString, secret string) (string, error) {
	claims := jwt.MapClaims{}
	if secret == "" {
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
			return "", err
		}
	} else {
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			return "", err
		}
		if !token.Valid {
			return "", jwt.ErrTokenSignatureInvalid
		}
	}

	for _, k := range userClaims {
		switch v := claims[k].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatInt(int64(v), 10), nil
		}
	}
	return "", ErrNoUserClaim
}
