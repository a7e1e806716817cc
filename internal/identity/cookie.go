package identity

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amoylab/pigeon/internal/session"
)

var (
	ErrInvalidToken     = errors.New("invalid session token")
	ErrExpiredToken     = errors.New("session token has expired")
	ErrInvalidAlgorithm = errors.New("invalid signing algorithm")
	ErrEmptySecretKey   = errors.New("secret key cannot be empty")
	ErrWeakSecretKey    = errors.New("secret key must be at least 32 characters")
)

// Claims are carried by the session cookie
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// CookieCodec signs session ids into cookie values and reads them back
type CookieCodec struct {
	secret []byte
	ttl    time.Duration
	gen    *Generator
}

// NewCookieCodec creates a codec signing with HS256. ttl bounds the token
// lifetime; zero means tokens never expire.
func NewCookieCodec(secret string, ttl time.Duration, gen *Generator) (*CookieCodec, error) {
	if secret == "" {
		return nil, ErrEmptySecretKey
	}
	if len(secret) < 32 {
		return nil, ErrWeakSecretKey
	}
	return &CookieCodec{secret: []byte(secret), ttl: ttl, gen: gen}, nil
}

// Encode returns a signed token holding id
func (c *CookieCodec) Encode(id session.ID) (string, error) {
	now := time.Now()
	claims := &Claims{
		SessionID: id.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if c.ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Decode validates a token and returns the session id it holds
func (c *CookieCodec) Decode(value string) (session.ID, error) {
	token, err := jwt.ParseWithClaims(value, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidAlgorithm
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpiredToken
		}
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return 0, ErrInvalidToken
	}
	if c.gen != nil {
		id, err := c.gen.Parse(claims.SessionID)
		if err != nil {
			return 0, ErrInvalidToken
		}
		return id, nil
	}
	id, err := strconv.ParseUint(claims.SessionID, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return session.ID(id), nil
}
