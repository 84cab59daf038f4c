package util

import (
	"errors"
	"testing"
)

func TestSecretBoxRoundTrip(t *testing.T) {
	box, err := NewSecretBox("server-secret")
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	sealed, err := box.Seal("smtp-password")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed == "smtp-password" {
		t.Fatalf("sealed value must not be plaintext")
	}
	plain, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if plain != "smtp-password" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestSecretBoxRejectsOtherKeyAndGarbage(t *testing.T) {
	a, _ := NewSecretBox("one")
	b, _ := NewSecretBox("two")
	sealed, err := a.Seal("x")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	for _, in := range []string{sealed, "", "!!!", "c2hvcnQ"} {
		if _, err := b.Open(in); !errors.Is(err, ErrSealedPayload) {
			t.Fatalf("expected ErrSealedPayload for %q, got %v", in, err)
		}
	}
}
