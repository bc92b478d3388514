package vault

import (
	"testing"
)

var testKey = []byte("thisis32byteslongsecretkey123456")

func TestSealOpen(t *testing.T) {
	s, err := NewSealer(testKey)
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	token := "v1.refresh-token-abc"

	sealed, err := s.Seal(token, "tether_refresh")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if sealed == token {
		t.Fatal("Sealed value should not equal the plaintext")
	}

	opened, err := s.Open(sealed, "tether_refresh")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if opened != token {
		t.Errorf("Expected %s, got %s", token, opened)
	}
}

func TestSealIsRandomized(t *testing.T) {
	s, _ := NewSealer(testKey)
	a, _ := s.Seal("same", "p")
	b, _ := s.Seal("same", "p")
	if a == b {
		t.Error("Two seals of the same value should differ")
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	s1, _ := NewSealer(testKey)
	s2, _ := NewSealer([]byte("another32byteslongsecretkey65432"))

	sealed, _ := s1.Seal("secret", "p")
	if _, err := s2.Open(sealed, "p"); err != ErrOpen {
		t.Fatalf("Expected ErrOpen with wrong key, got %v", err)
	}
}

func TestOpenWithWrongPurpose(t *testing.T) {
	s, _ := NewSealer(testKey)
	sealed, _ := s.Seal("secret", "tether_refresh")
	if _, err := s.Open(sealed, "tether_access"); err != ErrOpen {
		t.Fatalf("Expected ErrOpen for mismatched purpose, got %v", err)
	}
}

func TestInvalidKeySize(t *testing.T) {
	if _, err := NewSealer([]byte("shortkey")); err == nil {
		t.Fatal("NewSealer should fail with invalid key size")
	}
}

func TestOpenMalformed(t *testing.T) {
	s, _ := NewSealer(testKey)
	for _, in := range []string{"not base64 !!", "abcdef", ""} {
		if _, err := s.Open(in, "p"); err == nil {
			t.Errorf("Open(%q) should fail", in)
		}
	}
}
