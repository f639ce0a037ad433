package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Environment:         "local",
		LogLevel:            "info",
		ListenAddr:          ":8080",
		DatabaseURL:         "postgres://localhost/sentinel",
		DBMinConns:          1,
		DBMaxConns:          8,
		EmbedDimensions:     1024,
		FuzzyRadiusKM:       5,
		FuzzyWindowHours:    24,
		FuzzyThreshold:      0.75,
		SemanticRadiusKM:    50,
		SemanticWindowHours: 48,
		SemanticAccept:      0.92,
		SemanticBorderline:  0.85,
		JudgeConfidence:     0.8,
		TrustOfficialMin:    4,
		TrustCredibleMin:    2,
		CategoryRadiusKM:    map[string]float64{"airport": 3, "other": 15},
		TitleSynonyms:       map[string]string{"uav": "drone"},
		Workers:             4,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "  " }},
		{"min over max conns", func(c *Config) { c.DBMinConns = 9 }},
		{"zero dimensions", func(c *Config) { c.EmbedDimensions = 0 }},
		{"negative radius", func(c *Config) { c.FuzzyRadiusKM = -1 }},
		{"zero window", func(c *Config) { c.SemanticWindowHours = 0 }},
		{"threshold above one", func(c *Config) { c.FuzzyThreshold = 1.5 }},
		{"borderline above accept", func(c *Config) { c.SemanticBorderline = 0.95 }},
		{"inverted trust tiers", func(c *Config) { c.TrustOfficialMin = 1 }},
		{"official tier above weight cap", func(c *Config) { c.TrustOfficialMin = 5 }},
		{"no categories", func(c *Config) { c.CategoryRadiusKM = nil }},
		{"zero category radius", func(c *Config) { c.CategoryRadiusKM = map[string]float64{"airport": 0} }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation to fail")
			}
		})
	}
}

func TestEngineMapping(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	engineCfg := cfg.Engine()

	if engineCfg.FuzzyWindow != 24*time.Hour {
		t.Fatalf("expected 24h fuzzy window, got %v", engineCfg.FuzzyWindow)
	}
	if engineCfg.SemanticWindow != 48*time.Hour {
		t.Fatalf("expected 48h semantic window, got %v", engineCfg.SemanticWindow)
	}
	if engineCfg.Trust.OfficialMin != 4 || engineCfg.Trust.CredibleMin != 2 || engineCfg.Trust.MaxWeight != 4 {
		t.Fatalf("unexpected trust policy %+v", engineCfg.Trust)
	}
	if !engineCfg.CategoryKnown("airport") || engineCfg.CategoryKnown("volcano") {
		t.Fatalf("category table not carried through")
	}
	if engineCfg.TitleSynonyms["uav"] != "drone" {
		t.Fatalf("synonym table not carried through")
	}
}
