package auth

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestValidateEmail(t *testing.T) {
	for _, ok := range []string{"a@b.co", "first.last+tag@example-mail.org"} {
		if err := ValidateEmail(ok); err != nil {
			t.Fatalf("ValidateEmail(%q) err=%v", ok, err)
		}
	}
	for _, bad := range []string{"", "plain", "a@b", "a b@c.com", "@example.com"} {
		if err := ValidateEmail(bad); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("ValidateEmail(%q) want ErrInvalidEmail, got %v", bad, err)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		password string
		want     error
	}{
		{"Str0ng!pw", nil},
		{"S0!a", ErrPasswordTooShort},
		{"weak0!pass", ErrPasswordNoUpper},
		{"WEAK0!PASS", ErrPasswordNoLower},
		{"Weak!pass", ErrPasswordNoDigit},
		{"Weak0pass", ErrPasswordNoSymbol},
		{"Weak0pass-", ErrPasswordNoSymbol}, // '-' is not in the accepted symbol set
	}
	for _, c := range cases {
		if err := ValidatePassword(c.password); !errors.Is(err, c.want) {
			t.Fatalf("ValidatePassword(%q) = %v, want %v", c.password, err, c.want)
		}
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Str0ng!pw")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "Str0ng!pw" {
		t.Fatal("hash should not equal the password")
	}
	if !CheckPassword(hash, "Str0ng!pw") {
		t.Fatal("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatal("expected mismatch for wrong password")
	}
}

func TestDummyHash(t *testing.T) {
	h := DummyHash()
	if h != DummyHash() {
		t.Fatal("dummy hash should be stable")
	}
	cost, err := bcrypt.Cost([]byte(h))
	if err != nil || cost != bcrypt.DefaultCost {
		t.Fatalf("cost=%d err=%v want %d", cost, err, bcrypt.DefaultCost)
	}
	if CheckPassword(h, "Str0ng!pw") {
		t.Fatal("dummy hash must not match ordinary passwords")
	}
}

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens([]byte("secret"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := tokens.Issue("alice")
	if err != nil {
		t.Fatal(err)
	}
	got, err := tokens.Parse(tok)
	if err != nil {
		t.Fatalf("Parse err=%v", err)
	}
	if got != "alice" {
		t.Fatalf("subject=%q want alice", got)
	}
}

func TestTokensRejectForeignAndExpired(t *testing.T) {
	tokens, _ := NewTokens([]byte("secret"), time.Hour)
	other, _ := NewTokens([]byte("other-secret"), time.Hour)

	tok, _ := other.Issue("alice")
	if _, err := tokens.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign token: want ErrInvalidToken, got %v", err)
	}
	if _, err := tokens.Parse("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: want ErrInvalidToken, got %v", err)
	}

	start := time.Now()
	tokens.now = func() time.Time { return start }
	tok, _ = tokens.Issue("alice")
	tokens.now = func() time.Time { return start.Add(2 * time.Hour) }
	if _, err := tokens.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens(nil, time.Hour); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("want ErrMissingSigningKey, got %v", err)
	}
}
