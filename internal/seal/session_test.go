package seal

import (
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/promptseal/internal/ledger/sui"
)

func testWallet(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	return ed25519.NewKeyFromSeed(seed)
}

func TestSession_RoundTrip(t *testing.T) {
	t.Parallel()

	key := testWallet(t)
	tok, err := NewSession(key, testPackage, time.Minute)
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}

	addr, err := VerifySession(tok, testPackage)
	if err != nil {
		t.Fatalf("VerifySession error: %v", err)
	}
	if want := sui.Address(key.Public().(ed25519.PublicKey)); addr != want {
		t.Fatalf("address mismatch: got %q want %q", addr, want)
	}
}

func TestSession_Expired(t *testing.T) {
	t.Parallel()

	tok, err := NewSession(testWallet(t), testPackage, -time.Second)
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}

	_, err = VerifySession(tok, testPackage)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestSession_WrongPackage(t *testing.T) {
	t.Parallel()

	tok, err := NewSession(testWallet(t), testPackage, time.Minute)
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}

	_, err = VerifySession(tok, "0xother")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestSession_Garbage(t *testing.T) {
	t.Parallel()

	_, err := VerifySession("not.a.token", testPackage)
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestSession_TamperedKey(t *testing.T) {
	t.Parallel()

	// A token signed by one key but claiming another's public key fails
	// signature verification.
	a := testWallet(t)
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 9
	b := ed25519.NewKeyFromSeed(seed)

	tokA, err := NewSession(a, testPackage, time.Minute)
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	tokB, err := NewSession(b, testPackage, time.Minute)
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}

	// header.payload from A with signature from B
	mixed := tokA[:lastDot(tokA)] + tokB[lastDot(tokB):]
	if _, err := VerifySession(mixed, testPackage); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}
