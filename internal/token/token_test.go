package token

import (
	"errors"
	"testing"
	"time"
)

func newTestService(now time.Time) *Service {
	s := NewService([]byte("test-signing-key"))
	s.now = func() time.Time { return now }
	return s
}

func TestIssueAndVerify(t *testing.T) {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	s := newTestService(base)

	tok, err := s.Issue("did:agent:payer", "did:agent:provider", "gov.rfp.bidder", 300*time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := s.Verify(tok, "did:agent:provider", "gov.rfp.bidder")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "did:agent:payer" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if claims.Issuer != Issuer {
		t.Errorf("issuer = %q", claims.Issuer)
	}
	if claims.ID == "" {
		t.Error("jti should be set")
	}
}

func TestVerifyExpiry(t *testing.T) {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	s := newTestService(base)

	tok, err := s.Issue("a", "b", "cap", 300*time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Still valid one second before expiry.
	s.now = func() time.Time { return base.Add(299 * time.Second) }
	if _, err := s.Verify(tok, "b", "cap"); err != nil {
		t.Fatalf("Verify at t+299s: %v", err)
	}

	// Expired one second after.
	s.now = func() time.Time { return base.Add(301 * time.Second) }
	if _, err := s.Verify(tok, "b", "cap"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify at t+301s: got %v, want ErrTokenExpired", err)
	}
}

func TestVerifyAudienceMismatch(t *testing.T) {
	s := newTestService(time.Now())
	tok, _ := s.Issue("a", "b", "cap", time.Minute)

	if _, err := s.Verify(tok, "someone-else", "cap"); !errors.Is(err, ErrTokenAudienceMismatch) {
		t.Fatalf("got %v, want ErrTokenAudienceMismatch", err)
	}
}

func TestVerifyCapabilityMismatch(t *testing.T) {
	s := newTestService(time.Now())
	tok, _ := s.Issue("a", "b", "fin.defi.trade", time.Minute)

	if _, err := s.Verify(tok, "b", "dev.git.manage"); !errors.Is(err, ErrTokenCapabilityMismatch) {
		t.Fatalf("got %v, want ErrTokenCapabilityMismatch", err)
	}
	// Empty expected capability skips the check.
	if _, err := s.Verify(tok, "b", ""); err != nil {
		t.Fatalf("Verify without capability: %v", err)
	}
}

func TestVerifyWrongKey(t *testing.T) {
	s := newTestService(time.Now())
	tok, _ := s.Issue("a", "b", "cap", time.Minute)

	other := NewService([]byte("a-different-key"))
	if _, err := other.Verify(tok, "b", "cap"); !errors.Is(err, ErrTokenInvalidSignature) {
		t.Fatalf("got %v, want ErrTokenInvalidSignature", err)
	}
}

func TestIssueTTLBounds(t *testing.T) {
	s := newTestService(time.Now())

	if _, err := s.Issue("a", "b", "cap", 0); !errors.Is(err, ErrTTLInvalid) {
		t.Fatalf("ttl=0: got %v", err)
	}
	if _, err := s.Issue("a", "b", "cap", -time.Minute); !errors.Is(err, ErrTTLInvalid) {
		t.Fatalf("negative ttl: got %v", err)
	}
	if _, err := s.Issue("a", "b", "cap", 2*time.Hour); !errors.Is(err, ErrTTLTooLong) {
		t.Fatalf("ttl=2h: got %v", err)
	}
	if _, err := s.Issue("a", "b", "cap", time.Hour); err != nil {
		t.Fatalf("ttl=1h should be allowed: %v", err)
	}
}
