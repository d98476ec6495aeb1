package main

import (
	"testing"

	"lpgdepot/backend/internal/config"
)

func TestValidateSecurityConfigRejectsShortSecretWithPostgres(t *testing.T) {
	err := validateSecurityConfig(config.Config{DatabaseURL: "postgres://localhost/lpgdepot", AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{DatabaseURL: "postgres://localhost/lpgdepot", AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigAllowsDevModeWithoutSecret(t *testing.T) {
	if err := validateSecurityConfig(config.Config{}); err != nil {
		t.Fatalf("expected in-memory dev mode to start without a secret, got %v", err)
	}
}
