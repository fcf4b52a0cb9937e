package token

import (
	"testing"

	"github.com/google/uuid"
)

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer("test-secret")
	user := uuid.New()

	signed, err := issuer.Issue(user)
	if err != nil {
		t.Fatal(err)
	}

	got, err := issuer.Verify(signed)
	if err != nil {
		t.Fatal(err)
	}
	if got != user {
		t.Fatalf("expected %s, got %s", user, got)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signed, err := NewIssuer("secret-a").Issue(uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewIssuer("secret-b").Verify(signed); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := NewIssuer("test-secret")
	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := issuer.Verify(tok); err != ErrInvalidToken {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", tok, err)
		}
	}
}
