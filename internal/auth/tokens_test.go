package auth

import (
	"testing"
	"time"
)

const testSecret = "test-secret-key-that-is-long-enough"

func TestOwnerTokenRoundTrip(t *testing.T) {
	token, err := IssueOwnerToken(testSecret, "owner-42", time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	ownerID, err := VerifyOwnerToken(testSecret, token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if ownerID != "owner-42" {
		t.Fatalf("got owner %q, want owner-42", ownerID)
	}
}

func TestOwnerTokenWrongSecret(t *testing.T) {
	token, err := IssueOwnerToken(testSecret, "owner-42", time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := VerifyOwnerToken("some-other-secret-entirely-different", token); err == nil {
		t.Fatalf("token signed with another secret must not verify")
	}
}

func TestOwnerTokenExpired(t *testing.T) {
	token, err := IssueOwnerToken(testSecret, "owner-42", -time.Minute)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := VerifyOwnerToken(testSecret, token); err == nil {
		t.Fatalf("expired token must not verify")
	}
}

func TestIssueRequiresOwner(t *testing.T) {
	if _, err := IssueOwnerToken(testSecret, "", time.Hour); err == nil {
		t.Fatalf("empty owner id must be rejected")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	if _, err := VerifyOwnerToken(testSecret, "not.a.jwt"); err == nil {
		t.Fatalf("malformed token must not verify")
	}
}
