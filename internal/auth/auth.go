package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const userIdClaim = "user-id"

// ErrInvalidToken is returned for any credential that does not verify:
// bad signature, expired, or missing claims.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier validates a bearer credential presented at handshake and
// resolves it to a user identity.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// JWTVerifier verifies and issues HS256 session tokens.
type JWTVerifier struct {
	signingKey []byte
}

func NewJWTVerifier(signingKey []byte) *JWTVerifier {
	return &JWTVerifier{signingKey: signingKey}
}

func (v *JWTVerifier) Verify(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, ErrInvalidToken
	}

	return int64(userId), nil
}

// IssueToken creates a signed session token for a user, valid for exp.
func (v *JWTVerifier) IssueToken(userId int64, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		"exp":       time.Now().Add(exp).Unix(),
	})

	return token.SignedString(v.signingKey)
}
