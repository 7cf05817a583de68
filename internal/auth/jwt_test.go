package auth

import (
	"testing"
	"time"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "medcheck-test"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue(42, RoleStudent, testIssuer, testKey, 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	actor, err := claims.Actor()
	if err != nil {
		t.Fatalf("Actor: %v", err)
	}
	if actor.ID != 42 {
		t.Errorf("ID = %d, want 42", actor.ID)
	}
	if actor.Role != RoleStudent {
		t.Errorf("Role = %q, want %q", actor.Role, RoleStudent)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue(42, RoleStudent, testIssuer, testKey, 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "other-key", testIssuer); err == nil {
		t.Error("expected error for wrong signing key")
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	pair, err := Issue(42, RoleStudent, testIssuer, testKey, 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, testKey, "someone-else"); err == nil {
		t.Error("expected error for wrong issuer")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	pair, err := Issue(42, RoleStudent, testIssuer, testKey, -time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, testKey, testIssuer); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestElevated(t *testing.T) {
	cases := []struct {
		role string
		want bool
	}{
		{RoleStudent, false},
		{RoleSupervisor, true},
		{RoleCoordinator, true},
		{RoleAdmin, true},
	}
	for _, tc := range cases {
		a := Actor{ID: 1, Role: tc.role}
		if a.Elevated() != tc.want {
			t.Errorf("Elevated(%s) = %v, want %v", tc.role, a.Elevated(), tc.want)
		}
	}
}
