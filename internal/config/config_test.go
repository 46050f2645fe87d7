package config

import (
	"testing"
)

func TestLoadDefaultsWithSimulation(t *testing.T) {
	t.Setenv("NOTIFY_SIMULATION", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("default port = %s", cfg.Server.Port)
	}
	if !cfg.Notify.Simulation {
		t.Error("simulation flag not picked up")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default log level = %s", cfg.Logging.Level)
	}
}

func TestLoadRejectsMissingTransports(t *testing.T) {
	t.Setenv("NOTIFY_SIMULATION", "false")
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("GATEWAY_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when no SMS transport is configured")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("NOTIFY_SIMULATION", "true")
	t.Setenv("PORT", "not-a-port")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("NOTIFY_SIMULATION", "true")
	t.Setenv("LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestLoadTransportCredentials(t *testing.T) {
	t.Setenv("NOTIFY_SIMULATION", "true")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550001111")
	t.Setenv("GATEWAY_URL", "https://legacy.example.com/send")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Twilio.AccountSID != "AC123" || cfg.Twilio.FromNumber != "+15550001111" {
		t.Errorf("twilio config not loaded: %+v", cfg.Twilio)
	}
	if cfg.Gateway.URL != "https://legacy.example.com/send" {
		t.Errorf("gateway config not loaded: %+v", cfg.Gateway)
	}
	if cfg.SMTP.Port != 2525 {
		t.Errorf("smtp port = %d", cfg.SMTP.Port)
	}
}
