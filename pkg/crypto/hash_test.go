package crypto

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashSecret(t *testing.T) {
	hash, err := HashSecretWithCost("tv-webhook-secret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashSecretWithCost: %v", err)
	}
	if hash == "tv-webhook-secret" || !strings.HasPrefix(hash, "$2") {
		t.Errorf("unexpected hash format: %q", hash)
	}

	if !SecretMatches("tv-webhook-secret", hash) {
		t.Error("secret should match its hash")
	}
	if SecretMatches("tv-webhook-secreT", hash) {
		t.Error("different secret must not match")
	}
}

func TestHashSecret_DefaultCost(t *testing.T) {
	hash, err := HashSecret("default-cost-secret")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil || cost != DefaultCost {
		t.Errorf("expected cost %d, got %d (%v)", DefaultCost, cost, err)
	}
}

func TestHashSecretWithCost_Clamped(t *testing.T) {
	hash, err := HashSecretWithCost("secret", 1)
	if err != nil {
		t.Fatalf("HashSecretWithCost: %v", err)
	}
	if cost, _ := bcrypt.Cost([]byte(hash)); cost != bcrypt.MinCost {
		t.Errorf("cost should be clamped to %d, got %d", bcrypt.MinCost, cost)
	}
}

func TestHashSecret_InvalidInput(t *testing.T) {
	if _, err := HashSecret(""); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("empty secret: %v", err)
	}
	if _, err := HashSecret(strings.Repeat("s", MaxSecretLength+1)); !errors.Is(err, ErrSecretTooLong) {
		t.Errorf("long secret: %v", err)
	}
}

func TestVerifySecret(t *testing.T) {
	hash, _ := HashSecretWithCost("owner-secret", bcrypt.MinCost)

	tests := []struct {
		name    string
		secret  string
		hash    string
		wantErr error
	}{
		{"match", "owner-secret", hash, nil},
		{"mismatch", "other", hash, ErrSecretMismatch},
		{"empty secret", "", hash, ErrEmptySecret},
		{"empty hash", "owner-secret", "", ErrInvalidHash},
		{"garbage hash", "owner-secret", "not-a-bcrypt-hash", ErrInvalidHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySecret(tt.secret, tt.hash)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
