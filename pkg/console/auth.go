package console

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the JWT claims of a script author.
type Claims struct {
	Author string `json:"author"`
	jwt.RegisteredClaims
}

// AuthService issues and checks bearer tokens. Tokens are issued offline
// by the operator; there is no login endpoint.
type AuthService struct {
	jwtKey []byte
	expiry time.Duration
}

// NewAuthService creates an auth service. If jwtSecret is empty, a random
// 32-byte key is generated, so tokens only live as long as the process.
func NewAuthService(jwtSecret string, expirySeconds int) *AuthService {
	var key []byte
	if jwtSecret != "" {
		key = []byte(jwtSecret)
	} else {
		key = make([]byte, 32)
		rand.Read(key)
	}
	expiry := 24 * time.Hour
	if expirySeconds > 0 {
		expiry = time.Duration(expirySeconds) * time.Second
	}
	return &AuthService{jwtKey: key, expiry: expiry}
}

// Issue returns a token for author.
func (a *AuthService) Issue(author string) (string, error) {
	if author == "" {
		return "", fmt.Errorf("console: empty author name")
	}
	now := time.Now()
	claims := Claims{
		Author: author,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   author,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			Issuer:    "mudscript",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtKey)
}

// ValidateToken parses and validates a JWT token string.
func (a *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtKey, nil
	}, jwt.WithIssuer("mudscript"))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Author == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// GenerateSecret generates a random hex-encoded secret suitable for the
// console_secret setting.
func GenerateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
