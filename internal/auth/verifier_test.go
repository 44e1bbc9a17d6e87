// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestVerifier(t *testing.T, ttl time.Duration) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret, ttl)
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	return v
}

func TestNewJWTVerifierRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTVerifier("too-short", time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newTestVerifier(t, time.Hour)
	userID := uuid.New()

	token, err := v.GenerateToken(userID)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	got, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != userID {
		t.Errorf("Verify returned %s, want %s", got, userID)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	v := newTestVerifier(t, time.Hour)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	v := newTestVerifier(t, time.Hour)
	other, _ := NewJWTVerifier("ffffffffffffffffffffffffffffffff", time.Hour)

	token, err := other.GenerateToken(uuid.New())
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	v := newTestVerifier(t, time.Hour)

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.New().String()}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify error = %v, want ErrTokenInvalid for alg=none", err)
	}
}

func TestVerifyNonUUIDSubject(t *testing.T) {
	v := newTestVerifier(t, time.Hour)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrSubjectInvalid) {
		t.Errorf("Verify error = %v, want ErrSubjectInvalid", err)
	}
}

func TestVerifyGarbageToken(t *testing.T) {
	v := newTestVerifier(t, time.Hour)

	for _, credential := range []string{"", "not-a-jwt", strings.Repeat("x", 4096)} {
		if _, err := v.Verify(context.Background(), credential); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Verify(%.16q) error = %v, want ErrTokenInvalid", credential, err)
		}
	}
}

func TestVerifyCancelledContext(t *testing.T) {
	v := newTestVerifier(t, time.Hour)
	token, _ := v.GenerateToken(uuid.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := v.Verify(ctx, token); !errors.Is(err, context.Canceled) {
		t.Errorf("Verify error = %v, want context.Canceled", err)
	}
}
