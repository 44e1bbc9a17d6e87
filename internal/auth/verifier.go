// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package auth resolves WebSocket credentials to user identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vzaretsky/parley/internal/metrics"
)

// Sentinel errors returned by Verify. The session layer maps all of them to
// the same opaque auth_error frame; the distinction is for logs and tests.
var (
	ErrTokenInvalid   = errors.New("token invalid")
	ErrTokenExpired   = errors.New("token expired")
	ErrSubjectInvalid = errors.New("token subject is not a user id")
)

// TokenVerifier resolves an opaque credential to a user identity.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (uuid.UUID, error)
}

// Claims carries the registered JWT claims; the user identity travels in the
// standard "sub" claim as a UUID string.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256-signed tokens.
type JWTVerifier struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTVerifier creates a verifier. The secret must be at least 32 bytes.
func NewJWTVerifier(secret string, ttl time.Duration) (*JWTVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTVerifier{secret: []byte(secret), ttl: ttl}, nil
}

// Verify checks the token signature and registered claims and returns the
// user id from the subject claim.
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		metrics.AuthFailures.Inc()
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return uuid.Nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		metrics.AuthFailures.Inc()
		return uuid.Nil, ErrTokenInvalid
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		metrics.AuthFailures.Inc()
		return uuid.Nil, fmt.Errorf("%w: %w", ErrSubjectInvalid, err)
	}
	return userID, nil
}

// GenerateToken signs a token for userID, valid for the verifier's TTL.
// Used by tests and by operator tooling that mints client credentials.
func (v *JWTVerifier) GenerateToken(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
