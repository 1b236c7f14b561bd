package token

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sharedcontext/server/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

func TestIntersectPermissions(t *testing.T) {
	got := intersectPermissions([]string{"read", "write", "bogus"})
	if len(got) != 2 || got[0] != "read" || got[1] != "write" {
		t.Errorf("intersectPermissions() = %v", got)
	}
	if got := intersectPermissions(nil); len(got) != 1 || got[0] != "read" {
		t.Errorf("intersectPermissions(nil) = %v, want [read]", got)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	svc := &Service{signingKey: []byte("test-signing-key-0123456789")}

	claims := Claims{
		AgentType:   "claude",
		Permissions: []string{"read", "write"},
	}
	claims.Subject = "agent1"
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Hour))
	claims.Issuer = issuer
	claims.Audience = []string{audience}

	signed, err := svc.sign(claims)
	if err != nil {
		t.Fatalf("sign() error = %v", err)
	}

	got, err := svc.verify(signed)
	if err != nil {
		t.Fatalf("verify() error = %v", err)
	}
	if got.Subject != "agent1" || got.AgentType != "claude" {
		t.Errorf("verify() claims = %+v", got)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	svc := &Service{signingKey: []byte("key-a")}
	other := &Service{signingKey: []byte("key-b")}

	claims := Claims{AgentType: "x"}
	claims.Subject = "agent1"
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Hour))
	claims.Issuer = issuer
	claims.Audience = []string{audience}

	signed, err := svc.sign(claims)
	if err != nil {
		t.Fatalf("sign() error = %v", err)
	}

	if _, err := other.verify(signed); err == nil {
		t.Error("expected verify() with wrong key to fail")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc, err := NewService(nil, Config{
		SigningKey:    "sign",
		EncryptionKey: "0123456789abcdef0123456789abcdef",
		APIKey:        "k",
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	ciphertext, err := svc.encrypt([]byte("hello jwt"))
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}
	plaintext, err := svc.decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if string(plaintext) != "hello jwt" {
		t.Errorf("decrypt() = %q", plaintext)
	}
}

func getTestStore(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	s, err := store.Open(context.Background(), url, store.DefaultConfig())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	return s
}

func TestAuthenticateResolveRefresh_Integration(t *testing.T) {
	st := getTestStore(t)
	defer st.Close()

	svc, err := NewService(st, Config{
		SigningKey:    "integration-signing-key",
		EncryptionKey: "0123456789abcdef0123456789abcdef",
		APIKey:        "valid-api-key",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	ctx := context.Background()
	res, err := svc.Authenticate(ctx, "agent1", "claude", "valid-api-key", []string{"read", "write"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	claims, err := svc.Resolve(ctx, res.OpaqueToken)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if claims.Subject != "agent1" {
		t.Errorf("claims.Subject = %q", claims.Subject)
	}

	refreshed, err := svc.Refresh(ctx, res.OpaqueToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	claims2, err := svc.Resolve(ctx, refreshed)
	if err != nil {
		t.Fatalf("Resolve(refreshed) error = %v", err)
	}
	if claims2.Subject != "agent1" {
		t.Errorf("claims2.Subject = %q", claims2.Subject)
	}
}

func TestAuthenticateRejectsBadAPIKey(t *testing.T) {
	svc, _ := NewService(nil, Config{
		SigningKey:    "sign",
		EncryptionKey: "0123456789abcdef0123456789abcdef",
		APIKey:        "correct",
	})
	if _, err := svc.Authenticate(context.Background(), "a1", "claude", "wrong", nil); err != ErrAuthInvalid {
		t.Errorf("Authenticate() error = %v, want ErrAuthInvalid", err)
	}
}
