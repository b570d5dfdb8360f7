package main

import (
	"testing"
	"time"

	"agendapos/backend/internal/config"
	"agendapos/backend/internal/httpapi"
	"agendapos/backend/internal/store"
	"agendapos/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

// TestAuthWiringAcceptsRepository exercises the exact wiring main performs:
// the repository handle, typed as the store interface, must serve as the
// auth manager's user store.
func TestAuthWiringAcceptsRepository(t *testing.T) {
	var repo store.Repository = memory.NewSeeded()

	auth := httpapi.NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, "739154", repo)
	if auth == nil {
		t.Fatalf("expected auth manager to be constructed from repository handle")
	}
}

func TestValidatePINStrength(t *testing.T) {
	if err := validatePINStrength("777777"); err == nil {
		t.Fatalf("expected all-same-digit PIN to be rejected")
	}
	if err := validatePINStrength("345678"); err == nil {
		t.Fatalf("expected ascending PIN to be rejected")
	}
	if err := validatePINStrength("739154"); err != nil {
		t.Fatalf("expected random PIN to pass, got %v", err)
	}
}
