package config

import (
	"strings"
	"testing"
)

func baseConfig() Config {
	return Config{
		Environment:               "test",
		ServerPort:                "5000",
		DBPassword:                "secret",
		SenderEmail:               "sender@example.com",
		Transport:                 "smtp",
		SMTP:                      SMTPConfig{Host: "smtp.example.com", Port: 587},
		RateLimitPerMinute:        30,
		RateLimitPerDay:           10000,
		FollowUp1DelayDays:        14,
		FollowUp2DelayDays:        10,
		PollIntervalMinutes:       1,
		ReplyCheckIntervalMinutes: 15,
		ReplyLookbackDays:         30,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := baseConfig()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero minute cap", func(c *Config) { c.RateLimitPerMinute = 0 }},
		{"negative daily cap", func(c *Config) { c.RateLimitPerDay = -1 }},
		{"zero follow-up delay", func(c *Config) { c.FollowUp1DelayDays = 0 }},
		{"zero poll interval", func(c *Config) { c.PollIntervalMinutes = 0 }},
		{"bad sender email", func(c *Config) { c.SenderEmail = "not-an-email" }},
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
		{"missing db password", func(c *Config) { c.DBPassword = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			if err := Validate(&cfg); err == nil {
				t.Fatal("Validate() = nil, want error")
			}
		})
	}
}

func TestValidateRequiresTransportCredentials(t *testing.T) {
	cfg := baseConfig()
	cfg.SMTP.Host = ""
	if err := Validate(&cfg); err == nil || !strings.Contains(err.Error(), "SMTP_HOST") {
		t.Fatalf("Validate() = %v, want SMTP_HOST error", err)
	}

	cfg = baseConfig()
	cfg.Transport = "graph"
	if err := Validate(&cfg); err == nil || !strings.Contains(err.Error(), "Graph") {
		t.Fatalf("Validate() = %v, want Graph credentials error", err)
	}

	cfg.Graph = GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}
	if err := Validate(&cfg); err != nil {
		t.Fatalf("Validate() with graph credentials = %v, want nil", err)
	}
}
