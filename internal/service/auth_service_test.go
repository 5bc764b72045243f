package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/proktor-backend/internal/config"
)

func newAuthFixture(t *testing.T) (*AuthService, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4,
	}
	return NewAuthService(cfg, rdb), mr
}

func TestPasswordHashRoundTrip(t *testing.T) {
	svc, _ := newAuthFixture(t)

	hash, err := svc.HashPassword("rahasia123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := svc.CheckPassword(hash, "rahasia123"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := svc.CheckPassword(hash, "salah"); err != ErrInvalidCredentials {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestStudentTokenSingleDevice(t *testing.T) {
	svc, _ := newAuthFixture(t)
	ctx := context.Background()

	token, err := svc.GenerateStudentToken(ctx, 42)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.TokenType != TokenTypeStudent {
		t.Fatalf("token type = %s, want student", claims.TokenType)
	}
	if claims.UserID != 42 {
		t.Fatalf("user id = %d, want 42", claims.UserID)
	}
	if err := svc.ValidateStudentSession(ctx, 42, claims.ID); err != nil {
		t.Fatalf("validate session: %v", err)
	}

	// A second device cannot log in while the session lives.
	if _, err := svc.GenerateStudentToken(ctx, 42); err != ErrSessionAlreadyActive {
		t.Fatalf("second login err = %v, want ErrSessionAlreadyActive", err)
	}

	// Another student is unaffected.
	if _, err := svc.GenerateStudentToken(ctx, 43); err != nil {
		t.Fatalf("other student login: %v", err)
	}
}

func TestResetStudentSessionAllowsRelogin(t *testing.T) {
	svc, _ := newAuthFixture(t)
	ctx := context.Background()

	first, err := svc.GenerateStudentToken(ctx, 42)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if err := svc.ResetStudentSession(ctx, 42); err != nil {
		t.Fatalf("reset: %v", err)
	}

	second, err := svc.GenerateStudentToken(ctx, 42)
	if err != nil {
		t.Fatalf("relogin after reset: %v", err)
	}

	// The old token no longer matches the active session.
	oldClaims, err := svc.ValidateToken(first)
	if err != nil {
		t.Fatalf("validate old token: %v", err)
	}
	if err := svc.ValidateStudentSession(ctx, 42, oldClaims.ID); err == nil {
		t.Fatal("old session still valid after reset and relogin")
	}

	newClaims, err := svc.ValidateToken(second)
	if err != nil {
		t.Fatalf("validate new token: %v", err)
	}
	if err := svc.ValidateStudentSession(ctx, 42, newClaims.ID); err != nil {
		t.Fatalf("new session invalid: %v", err)
	}
}

func TestStudentSessionExpiresWithToken(t *testing.T) {
	svc, mr := newAuthFixture(t)
	ctx := context.Background()

	token, err := svc.GenerateStudentToken(ctx, 42)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	if err := svc.ValidateStudentSession(ctx, 42, claims.ID); err == nil {
		t.Fatal("session survived past its expiry")
	}
	if _, err := svc.GenerateStudentToken(ctx, 42); err != nil {
		t.Fatalf("login after expiry: %v", err)
	}
}

func TestInstructorTokenAllowsConcurrentSessions(t *testing.T) {
	svc, _ := newAuthFixture(t)

	first, err := svc.GenerateInstructorToken(7)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := svc.GenerateInstructorToken(7)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	for _, token := range []string{first, second} {
		claims, err := svc.ValidateToken(token)
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if claims.TokenType != TokenTypeInstructor {
			t.Fatalf("token type = %s, want instructor", claims.TokenType)
		}
		if claims.UserID != 7 {
			t.Fatalf("user id = %d, want 7", claims.UserID)
		}
	}
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc, _ := newAuthFixture(t)

	token, err := svc.GenerateInstructorToken(7)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := svc.ValidateToken(token + "x"); err == nil {
		t.Fatal("tampered token accepted")
	}
	if _, err := svc.ValidateToken("not-a-jwt"); err == nil {
		t.Fatal("garbage token accepted")
	}

	other := NewAuthService(&config.Config{JWTSecret: "other-secret", JWTExpiry: time.Hour}, nil)
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatal("token signed with a different secret accepted")
	}
}
