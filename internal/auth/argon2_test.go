package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected hash form %q", hash)
	}

	if !VerifyPassword("correct horse battery staple", hash) {
		t.Error("correct password should verify")
	}
	if VerifyPassword("wrong", hash) {
		t.Error("wrong password should not verify")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h1, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 == h2 {
		t.Error("two hashes of the same password should differ")
	}
	if !VerifyPassword("secret", h1) || !VerifyPassword("secret", h2) {
		t.Error("both hashes should verify")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	tests := []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=65536,t=3,p=2$onlyonepart",
		"$argon2i$v=19$m=65536,t=3,p=2$c2FsdA$a2V5",
		"$argon2id$v=18$m=65536,t=3,p=2$c2FsdA$a2V5",
		"$argon2id$v=19$m=65536,t=3,p=2$!!!$a2V5",
	}
	for _, encoded := range tests {
		if VerifyPassword("anything", encoded) {
			t.Errorf("malformed hash %q should never verify", encoded)
		}
	}
}
