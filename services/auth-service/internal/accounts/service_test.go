package accounts

import (
	"strings"
	"testing"
	"time"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/storage"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("pass12345")
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" || hash == "pass12345" {
		t.Fatalf("unexpected hash %q", hash)
	}
	if err := verifyPassword(hash, "pass12345"); err != nil {
		t.Fatalf("verifyPassword should succeed: %v", err)
	}
	if err := verifyPassword(hash, "wrong-pass"); err == nil {
		t.Fatal("verifyPassword should fail for wrong password")
	}
	if err := verifyPassword(string(dummyHash), "pass12345"); err == nil {
		t.Fatal("dummy hash must never match")
	}
}

func TestNormalizeRegistration(t *testing.T) {
	valid := RegisterInput{Email: " ada@example.com ", Password: "long-enough"}

	got, err := normalizeRegistration(valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Email != "ada@example.com" || got.Role != auth.RoleClient {
		t.Fatalf("unexpected normalized input: %+v", got)
	}

	coach := valid
	coach.Role = "Coach"
	coach.CoachID = "someone-else"
	got, err = normalizeRegistration(coach)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Role != auth.RoleCoach || got.CoachID != "" {
		t.Fatalf("coach registration kept coach_id: %+v", got)
	}

	cases := []struct {
		name string
		mut  func(*RegisterInput)
		msg  string
	}{
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }, "valid email"},
		{"display name email", func(in *RegisterInput) { in.Email = "Ada <ada@example.com>" }, "valid email"},
		{"short password", func(in *RegisterInput) { in.Password = "short" }, "at least 8"},
		{"long password", func(in *RegisterInput) { in.Password = strings.Repeat("x", 73) }, "at most 72"},
		{"admin", func(in *RegisterInput) { in.Role = "admin" }, "cannot be self-registered"},
		{"unknown role", func(in *RegisterInput) { in.Role = "owner" }, "client or coach"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mut(&in)
			_, err := normalizeRegistration(in)
			if !apperr.IsCode(err, apperr.BadRequest) {
				t.Fatalf("expected BAD_REQUEST, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.msg) {
				t.Fatalf("expected message containing %q, got %q", tc.msg, err.Error())
			}
		})
	}
}

func TestClaimsFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	coach := claimsFor(storage.User{ID: "coach-1", Role: auth.RoleCoach, CoachID: "ignored"}, now, time.Hour)
	if coach.CoachID != "coach-1" {
		t.Fatalf("coach claims should point at themselves, got %q", coach.CoachID)
	}
	if coach.Iat != now.Unix() || coach.Exp != now.Add(time.Hour).Unix() {
		t.Fatalf("unexpected iat/exp: %d/%d", coach.Iat, coach.Exp)
	}

	client := claimsFor(storage.User{ID: "client-1", Role: auth.RoleClient, CoachID: "coach-1"}, now, time.Hour)
	if client.Sub != "client-1" || client.CoachID != "coach-1" || client.Role != auth.RoleClient {
		t.Fatalf("unexpected client claims: %+v", client)
	}

	admin := claimsFor(storage.User{ID: "admin-1", Role: auth.RoleAdmin, CoachID: "coach-1"}, now, time.Hour)
	if admin.CoachID != "" {
		t.Fatalf("admin claims should carry no coach, got %q", admin.CoachID)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.AccessTTL != time.Hour || cfg.RefreshTTL != 30*24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
