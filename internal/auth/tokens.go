package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Token purposes.
const (
	purposeReset      = "password_reset"
	purposeOAuthState = "oauth_state"
	purposeOAuthLink  = "oauth_link"
)

// Claims carries a purpose-bound token payload.
type Claims struct {
	Purpose string            `json:"pur"`
	Data    map[string]string `json:"dat,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs short-lived HS256 tokens. Single-use tokens are burned in Redis by jti.
type Tokens struct {
	secret []byte
	client *redis.Client
	now    func() time.Time
}

// NewTokens constructs a token signer.
func NewTokens(secret string, client *redis.Client) *Tokens {
	return &Tokens{secret: []byte(secret), client: client, now: time.Now}
}

// Issue signs a token for purpose and subject valid for ttl.
func (t *Tokens) Issue(purpose, subject string, ttl time.Duration, data map[string]string) (string, error) {
	now := t.now()
	claims := Claims{
		Purpose: purpose,
		Data:    data,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    "counselhub",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse validates signature, expiry and purpose.
func (t *Tokens) Parse(raw, purpose string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now), jwt.WithIssuer("counselhub"))
	if err != nil || !token.Valid || claims.Purpose != purpose {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Release makes a consumed token usable again.
func (t *Tokens) Release(ctx context.Context, claims *Claims) error {
	return t.client.Del(ctx, "auth:jti:"+claims.ID).Err()
}

// Consume burns the token id. A second call for the same token fails.
func (t *Tokens) Consume(ctx context.Context, claims *Claims) error {
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if d := claims.ExpiresAt.Sub(t.now()); d > 0 {
			ttl = d + time.Minute
		}
	}
	ok, err := t.client.SetNX(ctx, "auth:jti:"+claims.ID, "1", ttl).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if !ok {
		return ErrTokenUsed
	}
	return nil
}
