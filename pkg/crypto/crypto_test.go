package crypto

import (
	"errors"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword("s3cret", hash) {
		t.Fatal("expected password to match its hash")
	}
	if VerifyPassword("wrong", hash) {
		t.Fatal("wrong password matched")
	}
	if VerifyPassword("s3cret", "") {
		t.Fatal("empty hash matched")
	}

	if _, err := HashPassword(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestRandomSecret(t *testing.T) {
	t.Parallel()

	a, err := RandomSecret(32)
	if err != nil {
		t.Fatalf("RandomSecret: %v", err)
	}
	b, _ := RandomSecret(32)
	if len(a) != 43 || a == b {
		t.Fatalf("unexpected secrets %q %q", a, b)
	}
}
