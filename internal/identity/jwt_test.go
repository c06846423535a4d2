package identity

import (
	"testing"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

func TestServiceIssueVerify(t *testing.T) {
	service := NewService("secret", time.Hour)
	token, err := service.Issue(agentmodel.Device{ID: "device-1", Hostname: "box.local"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	d, err := service.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if d.ID != "device-1" {
		t.Fatalf("expected device id, got %q", d.ID)
	}
	if d.Hostname != "box.local" {
		t.Fatalf("expected hostname, got %q", d.Hostname)
	}
}

func TestServiceIssueRequiresDeviceID(t *testing.T) {
	service := NewService("secret", time.Hour)
	if _, err := service.Issue(agentmodel.Device{Hostname: "box.local"}); err != ErrDeviceIDEmpty {
		t.Fatalf("expected ErrDeviceIDEmpty, got %v", err)
	}
}

func TestServiceDisabledWithoutSecret(t *testing.T) {
	service := NewService("", time.Hour)
	if _, err := service.Issue(agentmodel.Device{ID: "device-1"}); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if _, err := service.Verify("whatever"); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestServiceVerifyRejectsTamperedToken(t *testing.T) {
	service := NewService("secret", time.Hour)
	token, err := service.Issue(agentmodel.Device{ID: "device-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other := NewService("a-different-secret", time.Hour)
	if _, err := other.Verify(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestServiceVerifyRejectsExpiredToken(t *testing.T) {
	service := NewService("secret", -time.Minute)
	token, err := service.Issue(agentmodel.Device{ID: "device-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := service.Verify(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestServiceNoExpiryWhenConfigured(t *testing.T) {
	service := NewService("secret", 0)
	token, err := service.Issue(agentmodel.Device{ID: "device-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := service.Verify(token); err != nil {
		t.Fatalf("expected a valid non-expiring token, got %v", err)
	}
}
