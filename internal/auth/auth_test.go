package auth

import (
	"strings"
	"testing"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("12345")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", hash)
	}

	ok, err := CheckPassword(hash, "12345")
	if err != nil || !ok {
		t.Fatalf("CheckPassword(correct) = %v, %v", ok, err)
	}
	ok, err = CheckPassword(hash, "54321")
	if err != nil || ok {
		t.Fatalf("CheckPassword(wrong) = %v, %v", ok, err)
	}
	ok, err = CheckPassword("plain", "plain")
	if err != nil || ok {
		t.Fatalf("CheckPassword(malformed) = %v, %v", ok, err)
	}
}

func TestSessionValue(t *testing.T) {
	s := NewSessions("secret")

	value := s.Value(42)
	id, ok := s.Verify(value)
	if !ok || id != 42 {
		t.Fatalf("Verify(%q) = %d, %v", value, id, ok)
	}

	if _, ok := NewSessions("other").Verify(value); ok {
		t.Fatalf("value signed with another secret must not verify")
	}

	payload, sig, _ := strings.Cut(value, ".")
	tampered := payload + "x." + sig
	if _, ok := s.Verify(tampered); ok {
		t.Fatalf("tampered value must not verify")
	}
	for _, bad := range []string{"", "abc", "abc.zz", "." + sig} {
		if _, ok := s.Verify(bad); ok {
			t.Fatalf("Verify(%q) must fail", bad)
		}
	}
}
