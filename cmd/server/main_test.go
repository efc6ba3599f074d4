package main

import (
	"testing"

	"farmapos/backend/internal/config"
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

func TestValidatePINStrength(t *testing.T) {
	cases := map[string]bool{
		"739154": true,
		"888888": false,
		"345678": false,
		"987654": false,
		"112233": false,
	}
	for pin, ok := range cases {
		err := validatePINStrength(pin)
		if ok && err != nil {
			t.Fatalf("pin %s expected to pass, got %v", pin, err)
		}
		if !ok && err == nil {
			t.Fatalf("pin %s expected to fail", pin)
		}
	}
}
